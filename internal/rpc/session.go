// Package rpc implements the session layer that rides on top of internal/wire:
// the isolated argument codec, the handshake/manifest exchange, request/response
// correlation with timeouts, and observer subscriptions (spec §4.2).
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/wire"
)

// State is a session's position in the connection lifecycle (§4.2).
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshakeSent
	StateManifestReceived
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateHandshakeSent:
		return "HandshakeSent"
	case StateManifestReceived:
		return "ManifestReceived"
	case StateReady:
		return "Ready"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Dispatcher resolves an incoming Request to application logic. Grains
// (ActionServer's player-facing interface, Silo's directory interface, ...)
// register one Dispatcher per session or share a process-wide one keyed by
// InterfaceID/MethodID; either way NotFound(ErrUnknownGrain/ErrUnknownMethod)
// is the dispatcher's job, not the session's.
type Dispatcher interface {
	Dispatch(ctx context.Context, peerID string, req Request) (result []byte, err error)
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, peerID string, req Request) ([]byte, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, peerID string, req Request) ([]byte, error) {
	return f(ctx, peerID, req)
}

type pendingCall struct {
	resultCh chan Response
}

// Subscription is one observer registration a peer holds on this session:
// the peer wants ObserverNotify frames for (InterfaceID, MethodID) tagged
// with SubscriptionID.
type Subscription struct {
	ID          uuid.UUID
	InterfaceID int32
	MethodID    int32
}

// Session wraps one wire.Peer with the RPC state machine, correlation
// tracking, and observer bookkeeping. One Session exists per connected peer.
type Session struct {
	peerID string
	peer   *wire.Peer
	log    *zap.Logger

	manifestOut ManifestSnapshot
	dispatcher  Dispatcher

	mu            sync.Mutex
	state         State
	manifestIn    *ManifestSnapshot
	manifestWait  chan struct{}
	pending       map[uuid.UUID]*pendingCall
	subscriptions map[uuid.UUID]Subscription
	onNotify      ObserverHandler

	closeOnce sync.Once
}

// NewSession constructs a session for a freshly-connected peer. manifestOut
// is this side's own interface/method table, sent immediately after the
// handshake completes; dispatcher serves incoming Requests.
func NewSession(peerID string, peer *wire.Peer, manifestOut ManifestSnapshot, dispatcher Dispatcher, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		peerID:        peerID,
		peer:          peer,
		log:           log.With(zap.String("peer", peerID)),
		manifestOut:   manifestOut,
		dispatcher:    dispatcher,
		state:         StateIdle,
		manifestWait:  make(chan struct{}),
		pending:       make(map[uuid.UUID]*pendingCall),
		subscriptions: make(map[uuid.UUID]Subscription),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug("session state transition", zap.String("from", prev.String()), zap.String("to", st.String()))
	}
}

// SendHandshake is called by the connecting side right after the transport
// reports OnConnect.
func (s *Session) SendHandshake(clientVersion string) error {
	s.setState(StateConnecting)
	hs := Handshake{ClientVersion: clientVersion, HandshakeKey: wire.HandshakeKey}
	if err := s.peer.Send(wire.MsgHandshake, hs.Marshal(), wire.Reliable); err != nil {
		return err
	}
	s.setState(StateHandshakeSent)
	return nil
}

// OnFrame is the transport's OnData callback for this peer, routing by
// message type to the right session-layer handler. It must be called from
// the same dispatch goroutine the transport already serializes delivery on
// per peer, so no additional framing-level lock is needed here.
func (s *Session) OnFrame(ctx context.Context, msgType wire.MessageType, payload []byte) {
	switch msgType {
	case wire.MsgHandshake:
		s.handleHandshake(payload)
	case wire.MsgManifestSnapshot:
		s.handleManifest(payload)
	case wire.MsgRequest:
		s.handleRequest(ctx, payload)
	case wire.MsgResponse:
		s.handleResponse(payload)
	case wire.MsgObserverNotify:
		s.handleObserverNotify(payload)
	case wire.MsgHeartbeat:
		// Liveness only; the transport's own idle timer already covers
		// disconnect detection, so there is nothing further to do here.
	default:
		s.log.Warn("unrecognized message type", zap.Uint8("type", uint8(msgType)))
	}
}

func (s *Session) handleHandshake(payload []byte) {
	hs, err := UnmarshalHandshake(payload)
	if err != nil {
		s.log.Warn("malformed handshake", zap.Error(err))
		return
	}
	if !wire.AcceptsKey(hs.HandshakeKey) {
		s.log.Warn("rejected handshake key")
		s.Close(NewError(KindNotAuthorized, "handshake key rejected"))
		return
	}
	// Listener side: a handshake from the other end means respond in kind
	// and move straight to exchanging manifests.
	if s.State() == StateIdle {
		s.setState(StateHandshakeSent)
		_ = s.peer.Send(wire.MsgHandshake, Handshake{HandshakeKey: wire.HandshakeKey}.Marshal(), wire.Reliable)
	}
	if err := s.peer.Send(wire.MsgManifestSnapshot, s.manifestOut.Marshal(), wire.Reliable); err != nil {
		s.log.Warn("failed to send manifest", zap.Error(err))
	}
}

func (s *Session) handleManifest(payload []byte) {
	m, err := UnmarshalManifestSnapshot(payload)
	if err != nil {
		s.log.Warn("malformed manifest", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.manifestIn = &m
	wasReady := s.state == StateReady
	s.mu.Unlock()
	s.setState(StateManifestReceived)
	if !wasReady {
		s.setState(StateReady)
		close(s.manifestWait)
	}
}

// WaitForManifest blocks until the peer's manifest has arrived or ctx is
// done, returning it. Safe to call exactly once's worth of blocking per
// session; repeated calls after the first successful wait return immediately.
func (s *Session) WaitForManifest(ctx context.Context) (ManifestSnapshot, error) {
	select {
	case <-s.manifestWait:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.manifestIn == nil {
			return ManifestSnapshot{}, NewError(KindDisconnected, "session closed before manifest arrived")
		}
		return *s.manifestIn, nil
	case <-ctx.Done():
		return ManifestSnapshot{}, WrapError(KindTimeout, "waiting for manifest", ctx.Err())
	}
}

// Call issues a Request and blocks for the matching Response, or until ctx
// is done. Each call gets a fresh correlation id; a fresh Encoder/Decoder
// pair for args/result keeps the isolated codec's no-sharing guarantee.
func (s *Session) Call(ctx context.Context, interfaceID, methodID int32, args []byte) ([]byte, error) {
	if s.State() != StateReady && s.State() != StateDraining {
		return nil, NewError(KindDisconnected, fmt.Sprintf("session not ready (state=%s)", s.State()))
	}
	correlationID := uuid.New()
	call := &pendingCall{resultCh: make(chan Response, 1)}

	s.mu.Lock()
	s.pending[correlationID] = call
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, correlationID)
		s.mu.Unlock()
	}()

	req := Request{CorrelationID: correlationID, InterfaceID: interfaceID, MethodID: methodID, Args: args}
	if err := s.peer.Send(wire.MsgRequest, req.Marshal(), wire.Reliable); err != nil {
		return nil, WrapError(KindDisconnected, "sending request", err)
	}

	select {
	case resp := <-call.resultCh:
		if !resp.OK {
			return nil, resp.ToError()
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, WrapError(KindTimeout, fmt.Sprintf("interface=%d method=%d", interfaceID, methodID), ctx.Err())
	}
}

func (s *Session) handleRequest(ctx context.Context, payload []byte) {
	req, err := UnmarshalRequest(payload)
	if err != nil {
		s.log.Warn("malformed request", zap.Error(err))
		return
	}
	if s.dispatcher == nil {
		s.replyError(req.CorrelationID, KindUnknownGrain, "no dispatcher registered")
		return
	}
	result, err := s.dispatcher.Dispatch(ctx, s.peerID, req)
	if err != nil {
		var rpcErr *Error
		if e, ok := err.(*Error); ok {
			rpcErr = e
		} else {
			rpcErr = WrapError(KindApplication, err.Error(), err)
		}
		s.replyError(req.CorrelationID, rpcErr.Kind, rpcErr.Error())
		return
	}
	resp := Response{CorrelationID: req.CorrelationID, OK: true, Result: result}
	if err := s.peer.Send(wire.MsgResponse, resp.Marshal(), wire.Reliable); err != nil {
		s.log.Warn("failed to send response", zap.Error(err))
	}
}

func (s *Session) replyError(correlationID uuid.UUID, kind Kind, msg string) {
	resp := Response{CorrelationID: correlationID, OK: false, ErrorKind: kind, ErrorMessage: msg}
	if err := s.peer.Send(wire.MsgResponse, resp.Marshal(), wire.Reliable); err != nil {
		s.log.Warn("failed to send error response", zap.Error(err))
	}
}

func (s *Session) handleResponse(payload []byte) {
	resp, err := UnmarshalResponse(payload)
	if err != nil {
		s.log.Warn("malformed response", zap.Error(err))
		return
	}
	s.mu.Lock()
	call, ok := s.pending[resp.CorrelationID]
	s.mu.Unlock()
	if !ok {
		// Response for a call we've already timed out and abandoned.
		return
	}
	select {
	case call.resultCh <- resp:
	default:
	}
}

// ObserverHandler receives notifications this session is subscribed to.
type ObserverHandler func(n ObserverNotify)

func (s *Session) handleObserverNotify(payload []byte) {
	n, err := UnmarshalObserverNotify(payload)
	if err != nil {
		s.log.Warn("malformed observer notify", zap.Error(err))
		return
	}
	s.mu.Lock()
	_, subscribed := s.subscriptions[n.SubscriptionID]
	handler := s.onNotify
	s.mu.Unlock()
	if !subscribed || handler == nil {
		return
	}
	handler(n)
}

// Subscribe records a local subscription so future ObserverNotify frames
// carrying this id are delivered. The session keeps a single handler: each
// call replaces the handler used for every subscription on this session.
// The actual subscribe Request to the remote grain is issued separately via
// Call.
func (s *Session) Subscribe(sub Subscription, handler ObserverHandler) {
	s.mu.Lock()
	s.subscriptions[sub.ID] = sub
	s.onNotify = handler
	s.mu.Unlock()
}

func (s *Session) Unsubscribe(subID uuid.UUID) {
	s.mu.Lock()
	delete(s.subscriptions, subID)
	s.mu.Unlock()
}

// Notify sends an ObserverNotify to this session's peer over the given
// channel (typically Unreliable for high-rate streams).
func (s *Session) Notify(n ObserverNotify, ch wire.Channel) error {
	return s.peer.Send(wire.MsgObserverNotify, n.Marshal(), ch)
}

// Drain marks the session as winding down: new Call()s are still allowed
// to complete in-flight work but the owner should stop issuing new ones and
// tear down once pending calls clear (§4.4 Draining transition).
func (s *Session) Drain() {
	s.setState(StateDraining)
}

// Close marks the session closed and fails every pending call. Idempotent.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.mu.Lock()
		pending := s.pending
		s.pending = make(map[uuid.UUID]*pendingCall)
		s.mu.Unlock()
		for _, call := range pending {
			select {
			case call.resultCh <- Response{OK: false, ErrorKind: KindDisconnected, ErrorMessage: fmt.Sprintf("%v", reason)}:
			default:
			}
		}
	})
}

// idleHeartbeat sends a Heartbeat on the Unreliable channel. Nothing in this
// repository calls it; no ticker sends Heartbeat frames.
func (s *Session) idleHeartbeat(monotonicNow time.Duration) error {
	return s.peer.Send(wire.MsgHeartbeat, Heartbeat{SentAtMonotonicNanos: int64(monotonicNow)}.Marshal(), wire.Unreliable)
}
