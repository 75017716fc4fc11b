package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

// SessionGrain serves the anonymous Session.CreateSession call (§4.7): the
// one method every process accepts from a caller with no prior session.
type SessionGrain struct {
	store *Store
	roles *Roles
	log   *zap.Logger
}

func NewSessionGrain(store *Store, roles *Roles, log *zap.Logger) *SessionGrain {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionGrain{store: store, roles: roles, log: log.Named("auth.session")}
}

// Dispatch implements rpc.Dispatcher. Args: String(playerName). Result:
// GUID-free 32-byte key encoded as a string (hex), plus the granted role
// name and expiry, so a guest client can bootstrap a real session.
func (g *SessionGrain) Dispatch(ctx context.Context, peerID string, req rpc.Request) ([]byte, error) {
	if req.InterfaceID != rpcapi.IfaceSession || req.MethodID != rpcapi.MethodCreateSession {
		return nil, rpc.ErrUnknownMethod
	}
	d := rpc.NewDecoder(req.Args)
	playerName, err := d.String()
	if err != nil {
		return nil, rpc.WrapError(rpc.KindArgumentDecode, "playerName", err)
	}

	sess, err := g.store.CreateSession(playerName, RoleUser, time.Duration(0))
	if err != nil {
		return nil, rpc.WrapError(rpc.KindApplication, "create session", err)
	}
	g.roles.Set(peerID, sess.Role)
	g.log.Info("session created", zap.String("peer", peerID), zap.String("player", playerName), zap.String("fingerprint", sess.Fingerprint()))

	keyHex := encodeKeyHex(sess.Key)
	return rpc.NewEncoder().String(keyHex).String(sess.Role.String()).Time(sess.ExpiresAt).Bytes(), nil
}

func encodeKeyHex(key [KeyBytes]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, KeyBytes*2)
	for _, b := range key {
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(out)
}
