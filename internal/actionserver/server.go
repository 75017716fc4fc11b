package actionserver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/config"
	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/telemetry"
)

const tickRate = 60 // Hz, per §3.

// FabricClient is the cross-zone fabric surface the tick loop drives
// (§4.6). internal/fabric implements this; actionserver only depends on the
// interface to avoid an import cycle (fabric itself calls back into
// actionserver's own ActionServer interface on the remote end).
type FabricClient interface {
	// QueryAdjacent fans out GetLocalWorldState to the 8 neighboring zones,
	// backing StreamAdjacentZoneEntities.
	QueryAdjacent(ctx context.Context, square grid.Square) []grid.WorldState
	// ForwardBullet reships a bullet crossing this zone's boundary to
	// whichever zone owns targetSquare.
	ForwardBullet(ctx context.Context, bulletID string, e grid.Entity, targetSquare grid.Square) error
	// SendScoutAlertForSquare resolves the current owner of square and sends
	// it a best-effort scout alert.
	SendScoutAlertForSquare(ctx context.Context, square grid.Square, message string)
}

type subscriber struct {
	session *rpc.Session
	sub     rpc.Subscription
}

// ActionServer owns one zone's World and its RPC grain.
type ActionServer struct {
	id     string
	square grid.Square
	tuning config.Tuning

	world   *World
	intents chan Intent
	dir     *directory.Client
	fabric  FabricClient
	metrics *telemetry.Metrics
	log     *zap.Logger
	status  atomic.Int32 // grid.ServerStatus

	mu            sync.Mutex
	sessions      map[string]*rpc.Session
	worldSubs     map[uuid.UUID]subscriber
	zoneStatsSubs map[uuid.UUID]subscriber
	adjacentSubs  map[uuid.UUID]subscriber
	seenBulletIDs map[string]struct{} // idempotency for TransferBulletTrajectory

	consecutiveHeartbeatFails int
}

func New(id string, square grid.Square, tuning config.Tuning, dir *directory.Client, fabric FabricClient, metrics *telemetry.Metrics, log *zap.Logger) *ActionServer {
	if log == nil {
		log = zap.NewNop()
	}
	as := &ActionServer{
		id:            id,
		square:        square,
		tuning:        tuning,
		world:         NewWorld(square),
		intents:       make(chan Intent, 4096),
		dir:           dir,
		fabric:        fabric,
		metrics:       metrics,
		log:           log.Named("actionserver").With(zap.String("serverId", id)),
		sessions:      make(map[string]*rpc.Session),
		worldSubs:     make(map[uuid.UUID]subscriber),
		zoneStatsSubs: make(map[uuid.UUID]subscriber),
		adjacentSubs:  make(map[uuid.UUID]subscriber),
		seenBulletIDs: make(map[string]struct{}),
	}
	as.status.Store(int32(grid.StatusStarting))
	return as
}

func (a *ActionServer) Status() grid.ServerStatus { return grid.ServerStatus(a.status.Load()) }

func (a *ActionServer) setStatus(s grid.ServerStatus) {
	prev := grid.ServerStatus(a.status.Swap(int32(s)))
	if prev != s {
		a.log.Info("status transition", zap.String("from", prev.String()), zap.String("to", s.String()))
	}
}

// RegisterSession tracks a connected peer for observer delivery and cleanup.
func (a *ActionServer) RegisterSession(peerID string, s *rpc.Session) {
	a.mu.Lock()
	a.sessions[peerID] = s
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.ActiveSessions.Inc()
	}
}

func (a *ActionServer) RemoveSession(peerID string) {
	a.mu.Lock()
	delete(a.sessions, peerID)
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.ActiveSessions.Dec()
	}
}

// Enqueue submits an Intent to be applied on the next tick. Safe to call
// from any RPC-handling goroutine.
func (a *ActionServer) Enqueue(in Intent) {
	select {
	case a.intents <- in:
	default:
		a.log.Warn("intent queue full, dropping intent")
	}
}

// Run drives the fixed-rate simulation loop until ctx is cancelled (§3, §4.4).
func (a *ActionServer) Run(ctx context.Context) {
	a.setStatus(grid.StatusReady)
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now
			if dt > a.tuning.MaxTickDT {
				dt = a.tuning.MaxTickDT // prevent tunneling through thin zones on a stall (§4.4)
			}
			a.runTick(ctx, dt)
		}
	}
}

func (a *ActionServer) runTick(ctx context.Context, dt time.Duration) {
	start := time.Now()
	drainIntents:
	for {
		select {
		case in := <-a.intents:
			in.Apply(a.world)
		default:
			break drainIntents
		}
	}
	a.world.advance(float32(dt.Seconds()))
	a.forwardBoundaryExits(ctx)
	a.emitScoutAlerts(ctx)
	if a.metrics != nil {
		a.metrics.SimTickDuration.Observe(time.Since(start).Seconds())
	}
}

// forwardBoundaryExits implements §4.4 tick step (d): bullets whose position
// has left the owned square plus the transfer-margin hysteresis are handed
// off to whichever zone owns their new position (§4.6 bullet forwarding).
// Only bullets cross zones this way; players transition through the
// client-side Router (§4.5) instead. The RPC call happens off the
// simulation goroutine per §5 ("the simulation thread MUST NOT suspend on
// RPC; it only enqueues") — the entity is already removed locally by the
// time the goroutine runs, so a slow or failed forward never blocks a tick.
func (a *ActionServer) forwardBoundaryExits(ctx context.Context) {
	if a.fabric == nil {
		return
	}
	for _, e := range a.world.BoundaryExits(a.tuning.ZoneSide, a.tuning.TransferMargin) {
		e := e
		target := grid.SquareForPosition(e.Position, a.tuning.ZoneSide)
		go func() {
			if err := a.fabric.ForwardBullet(ctx, e.EntityID, e, target); err != nil {
				a.log.Debug("forward bullet across boundary failed", zap.String("bulletId", e.EntityID), zap.Error(err))
			}
		}()
	}
}

// emitScoutAlerts implements §4.6 scout-alert emission: a player within the
// transfer-margin hysteresis of a shared edge triggers a best-effort
// ReceiveScoutAlert to the bordering zone so its AI can start biasing enemy
// movement toward the boundary ahead of the player actually crossing it.
func (a *ActionServer) emitScoutAlerts(ctx context.Context) {
	if a.fabric == nil {
		return
	}
	for _, p := range a.world.PlayersNearBoundary(a.tuning.ZoneSide, a.tuning.TransferMargin) {
		p := p
		go a.fabric.SendScoutAlertForSquare(ctx, p.Neighbor, p.Entity.EntityID)
	}
}

// RunHeartbeat periodically reports liveness to the Silo. Three consecutive
// failures flip this server to Draining (§5 "director unreachable"): no new
// players are accepted but the current ones keep ticking until a human
// operator or orchestrator decides to retire the process.
func (a *ActionServer) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.dir.UpdateHeartbeat(ctx, a.id); err != nil {
				a.consecutiveHeartbeatFails++
				a.log.Warn("heartbeat failed", zap.Error(err), zap.Int("consecutiveFails", a.consecutiveHeartbeatFails))
				if a.consecutiveHeartbeatFails >= 3 && a.Status() == grid.StatusReady {
					a.setStatus(grid.StatusDraining)
				}
				continue
			}
			a.consecutiveHeartbeatFails = 0
			if a.Status() == grid.StatusDraining {
				a.setStatus(grid.StatusReady)
			}
		}
	}
}

