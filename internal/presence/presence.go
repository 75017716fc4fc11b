// Package presence implements the coordinator directory (§4.8): a
// lightweight registry of the coordinator processes that own cross-cluster
// chat and game-over event fan-out, with a 2s heartbeat / 10s eviction
// cadence and a lowest-id primary tiebreak. No binary in cmd/ hosts it.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

const (
	HeartbeatInterval = 2 * time.Second
	EvictAfter        = 10 * time.Second
)

// Coordinator is one registered coordinator process.
type Coordinator struct {
	CoordinatorID string
	HTTPEndpoint  string
	EventBusURL   string
	LastHeartbeat time.Time
	IsPrimary     bool
}

// Registry tracks live coordinators and recomputes the primary (lowest
// CoordinatorID among live entries) on every Register and every eviction
// that removes an entry.
type Registry struct {
	mu           sync.Mutex
	coordinators map[string]*Coordinator
	log          *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{coordinators: make(map[string]*Coordinator), log: log.Named("presence")}
}

func (r *Registry) Register(id, httpEndpoint, eventBusURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coordinators[id] = &Coordinator{CoordinatorID: id, HTTPEndpoint: httpEndpoint, EventBusURL: eventBusURL, LastHeartbeat: time.Now()}
	r.recomputePrimaryLocked()
}

func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coordinators[id]; ok {
		c.LastHeartbeat = time.Now()
	}
}

// List returns every live coordinator, primary first, then by id.
func (r *Registry) List() []Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Coordinator, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CoordinatorID < out[j].CoordinatorID
	})
	return out
}

// EvictStale drops coordinators that haven't heartbeat within EvictAfter.
func (r *Registry) EvictStale(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for id, c := range r.coordinators {
		if now.Sub(c.LastHeartbeat) > EvictAfter {
			delete(r.coordinators, id)
			changed = true
			r.log.Info("coordinator evicted", zap.String("coordinatorId", id))
		}
	}
	if changed {
		r.recomputePrimaryLocked()
	}
}

func (r *Registry) recomputePrimaryLocked() {
	var lowest string
	first := true
	for id := range r.coordinators {
		if first || id < lowest {
			lowest = id
			first = false
		}
	}
	for id, c := range r.coordinators {
		c.IsPrimary = id == lowest
	}
}

// RunEviction drives the periodic eviction scan until ctx is cancelled.
func (r *Registry) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(EvictAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictStale(time.Now())
		}
	}
}

// Fanout broadcasts a chat message to every registered coordinator's event
// bus. This is the real implementation of directory.ChatFanout (§4.3) — the
// Silo only knows how to call it, not how coordinators are discovered.
func (r *Registry) Fanout(dial func(ctx context.Context, eventBusURL string) error) func(ctx context.Context, msg string) error {
	return func(ctx context.Context, msg string) error {
		for _, c := range r.List() {
			if err := dial(ctx, c.EventBusURL); err != nil {
				r.log.Warn("chat fanout failed", zap.String("coordinatorId", c.CoordinatorID), zap.Error(err))
			}
		}
		return nil
	}
}

// Grain exposes the Presence interface over RPC (RegisterCoordinator is
// RequireRole:Admin; ListCoordinators is ClientAccessible, per configs/policy.yaml).
type Grain struct {
	reg *Registry
}

func NewGrain(reg *Registry) *Grain { return &Grain{reg: reg} }

func (g *Grain) Dispatch(ctx context.Context, peerID string, req rpc.Request) ([]byte, error) {
	if req.InterfaceID != rpcapi.IfacePresence {
		return nil, rpc.ErrUnknownGrain
	}
	d := rpc.NewDecoder(req.Args)
	switch req.MethodID {
	case rpcapi.MethodRegisterCoordinator:
		id, err1 := d.String()
		httpEndpoint, err2 := d.String()
		eventBusURL, err3 := d.String()
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "RegisterCoordinator", err)
		}
		g.reg.Register(id, httpEndpoint, eventBusURL)
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodListCoordinators:
		list := g.reg.List()
		e := rpc.NewEncoder().I32(int32(len(list)))
		for _, c := range list {
			e.String(c.CoordinatorID).String(c.HTTPEndpoint).String(c.EventBusURL).Bool(c.IsPrimary)
		}
		return e.Bytes(), nil

	default:
		return nil, rpc.ErrUnknownMethod
	}
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
