package rpc

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/wire"
)

// Dial opens a UDP connection to remoteAddr, completes the handshake/manifest
// exchange, and returns a ready Session. dispatcher serves any Requests the
// remote side issues back to this connection (most clients pass a
// Dispatcher that always returns ErrUnknownGrain).
func Dial(ctx context.Context, remoteAddr string, clientVersion string, manifest ManifestSnapshot, dispatcher Dispatcher, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var sessionPtr atomic.Pointer[Session]
	handlers := wire.Handlers{
		OnData: func(peerID string, msgType wire.MessageType, data []byte, ch wire.Channel) {
			if s := sessionPtr.Load(); s != nil {
				s.OnFrame(context.Background(), msgType, data)
			}
		},
	}

	transport, peer, err := wire.Connect(remoteAddr, wire.HandshakeKey, wire.DefaultConfig(), handlers)
	if err != nil {
		return nil, err
	}
	session := NewSession(peer.ID, peer, manifest, dispatcher, log)
	sessionPtr.Store(session)

	if err := session.SendHandshake(clientVersion); err != nil {
		transport.Close()
		return nil, err
	}
	if _, err := session.WaitForManifest(ctx); err != nil {
		transport.Close()
		return nil, err
	}
	return session, nil
}
