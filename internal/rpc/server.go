package rpc

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/wire"
)

// SessionManager is the composition point between internal/wire's Transport
// and one Session per connected peer. Every server process (Silo, action
// server) wires one of these between its Dispatcher
// and its Transport.
//
// Construction is two-phase because wire.Listen needs a Handlers value
// before it can hand back the Transport that SessionManager's own handlers
// need to look up a Peer by id: build the manager, take Handlers(), pass it
// to wire.Listen, then AttachTransport with the result.
type SessionManager struct {
	manifest   ManifestSnapshot
	dispatcher Dispatcher
	log        *zap.Logger

	transport *wire.Transport

	mu       sync.Mutex
	sessions map[string]*Session

	onConnect    func(peerID string, s *Session)
	onDisconnect func(peerID string)
}

func NewSessionManager(manifest ManifestSnapshot, dispatcher Dispatcher, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		manifest:   manifest,
		dispatcher: dispatcher,
		log:        log.Named("rpc.server"),
		sessions:   make(map[string]*Session),
	}
}

func (sm *SessionManager) AttachTransport(t *wire.Transport) { sm.transport = t }

func (sm *SessionManager) OnConnectHook(fn func(peerID string, s *Session))  { sm.onConnect = fn }
func (sm *SessionManager) OnDisconnectHook(fn func(peerID string))           { sm.onDisconnect = fn }

// Session looks up a connected peer's session.
func (sm *SessionManager) Session(peerID string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[peerID]
	return s, ok
}

// Handlers builds the wire.Handlers to pass into wire.Listen/wire.Connect.
func (sm *SessionManager) Handlers() wire.Handlers {
	return wire.Handlers{
		OnConnect: func(peerID string) {
			if sm.transport == nil {
				sm.log.Error("session manager used before AttachTransport")
				return
			}
			peer, ok := sm.transport.Peer(peerID)
			if !ok {
				return
			}
			s := NewSession(peerID, peer, sm.manifest, sm.dispatcher, sm.log)
			sm.mu.Lock()
			sm.sessions[peerID] = s
			sm.mu.Unlock()
			if sm.onConnect != nil {
				sm.onConnect(peerID, s)
			}
		},
		OnDisconnect: func(peerID string, reason error) {
			sm.mu.Lock()
			s := sm.sessions[peerID]
			delete(sm.sessions, peerID)
			sm.mu.Unlock()
			if s != nil {
				s.Close(reason)
			}
			if sm.onDisconnect != nil {
				sm.onDisconnect(peerID)
			}
		},
		OnData: func(peerID string, msgType wire.MessageType, data []byte, ch wire.Channel) {
			sm.mu.Lock()
			s := sm.sessions[peerID]
			sm.mu.Unlock()
			if s == nil {
				return
			}
			s.OnFrame(context.Background(), msgType, data)
		},
	}
}
