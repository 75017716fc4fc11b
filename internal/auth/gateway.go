package auth

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

// Roles tracks the role a session is currently operating as, keyed by peer
// id. Session.CreateSession (AllowAnonymous) populates an entry; everything
// else is checked against it. A peer with no entry is treated as RoleGuest.
type Roles struct {
	mu    sync.RWMutex
	roles map[string]Role
}

func NewRoles() *Roles {
	return &Roles{roles: make(map[string]Role)}
}

func (r *Roles) Set(peerID string, role Role) {
	r.mu.Lock()
	r.roles[peerID] = role
	r.mu.Unlock()
}

func (r *Roles) Get(peerID string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[peerID]
}

func (r *Roles) Clear(peerID string) {
	r.mu.Lock()
	delete(r.roles, peerID)
	r.mu.Unlock()
}

// Gateway wraps an rpc.Dispatcher with the method-gating policy check of
// §4.7: it runs before the inner dispatcher (and therefore before that
// dispatcher decodes its own arguments), rejecting with KindNotAuthorized
// whenever the caller's current role does not satisfy the method's gate.
type Gateway struct {
	inner  rpc.Dispatcher
	policy *PolicyTable
	roles  *Roles
	log    *zap.Logger
}

func NewGateway(inner rpc.Dispatcher, policy *PolicyTable, roles *Roles, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{inner: inner, policy: policy, roles: roles, log: log.Named("auth.gateway")}
}

func (g *Gateway) Dispatch(ctx context.Context, peerID string, req rpc.Request) ([]byte, error) {
	name, ok := rpcapi.MethodName(req.InterfaceID, req.MethodID)
	if !ok {
		return nil, rpc.NewError(rpc.KindUnknownMethod, "unregistered interface/method id")
	}
	role := g.roles.Get(peerID)
	if !g.policy.Authorize(MethodKey(name), role) {
		g.log.Warn("rejected unauthorized call", zap.String("peer", peerID), zap.String("method", name), zap.String("role", role.String()))
		return nil, rpc.NewError(rpc.KindNotAuthorized, name)
	}
	return g.inner.Dispatch(ctx, peerID, req)
}
