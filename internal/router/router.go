// Package router implements the client-side zone-transition state machine
// of §4.5: detecting that the player's position has crossed into a new
// zone and polling the directory for the new owner once per tick of Run's
// 10 Hz loop, with no backoff between polls (PollWithBackoff is a separate
// blocking poll with a 250ms→2s backoff). Past T_warn each tick logs a
// warning. Past T_critical the transition is dropped and the new zone is
// recorded as the connected zone; no directory lookup or reconnect is made
// and the current connection is kept.
package router

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/config"
	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/grid"
)

const minTickRate = 10 // Hz, per §4.5.

// ConnectionState is the router's view of where the local player currently
// is and which action server it believes owns that zone.
type ConnectionState struct {
	ConnectedZone         grid.Square
	ActiveServer          grid.ActionServerInfo
	PlayerPosition        grid.Vec2
	TransitionStartedAt   time.Time
	InTransition          bool
}

// ActionServerConnector opens (or returns a cached) RPC connection to an
// action server; actionserver's cmd wiring supplies the concrete dialer.
type ActionServerConnector func(ctx context.Context, info grid.ActionServerInfo) error

// Router drives one client's zone-follow loop.
type Router struct {
	dir     *directory.Client
	connect ActionServerConnector
	tuning  config.Tuning
	log     *zap.Logger

	state ConnectionState
}

func New(dir *directory.Client, connect ActionServerConnector, tuning config.Tuning, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{dir: dir, connect: connect, tuning: tuning, log: log.Named("router")}
}

func (r *Router) State() ConnectionState { return r.state }

// Run drives the tick loop at minTickRate until ctx is cancelled. playerPos
// is polled each tick from the caller's own input/physics loop, which the
// router does not own.
func (r *Router) Run(ctx context.Context, playerID string, playerPos func() grid.Vec2) {
	ticker := time.NewTicker(time.Second / minTickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, playerID, playerPos())
		}
	}
}

func (r *Router) tick(ctx context.Context, playerID string, pos grid.Vec2) {
	r.state.PlayerPosition = pos
	current := grid.SquareForPosition(pos, r.tuning.ZoneSide)

	if current == r.state.ConnectedZone && !r.state.InTransition {
		return
	}

	if !r.state.InTransition {
		r.state.InTransition = true
		r.state.TransitionStartedAt = time.Now()
		r.log.Info("zone transition detected", zap.Any("from", r.state.ConnectedZone), zap.Any("to", current))
	}

	elapsed := time.Since(r.state.TransitionStartedAt)
	if elapsed > r.tuning.TCritical {
		r.log.Warn("PROLONGED_MISMATCH_ABORT: restarting zone discovery", zap.Duration("elapsed", elapsed))
		r.state.InTransition = false
		r.state.ConnectedZone = current // record the new zone as connected; no lookup or reconnect happens here
		return
	}
	if elapsed > r.tuning.TWarn {
		r.log.Warn("zone transition taking longer than expected", zap.Duration("elapsed", elapsed))
	}

	result, err := r.dir.InitiatePlayerTransfer(ctx, playerID, pos)
	if err != nil {
		r.log.Debug("transfer poll failed, will retry next tick", zap.Error(err))
		return
	}
	if !result.Transferred {
		return // target zone not yet owned; next tick retries (§4.3 "client retries")
	}

	if err := r.connect(ctx, result.Target); err != nil {
		r.log.Warn("failed to connect to new zone owner", zap.String("server", result.Target.ServerID), zap.Error(err))
		return
	}
	r.state.ActiveServer = result.Target
	r.state.ConnectedZone = current
	r.state.InTransition = false
	r.log.Info("zone transfer complete", zap.String("server", result.Target.ServerID))
}

// PollWithBackoff retries InitiatePlayerTransfer with the 250ms→2s backoff
// named in §4.5, for callers (e.g. an initial connect) that want a single
// blocking resolution rather than riding the tick loop.
func PollWithBackoff(ctx context.Context, dir *directory.Client, playerID string, pos grid.Vec2) (directory.TransferResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	bctx := backoff.WithContext(bo, ctx)

	var result directory.TransferResult
	op := func() error {
		res, err := dir.InitiatePlayerTransfer(ctx, playerID, pos)
		if err != nil {
			return err
		}
		if !res.Transferred {
			return errNotYetOwned
		}
		result = res
		return nil
	}
	if err := backoff.Retry(op, bctx); err != nil {
		return directory.TransferResult{}, err
	}
	return result, nil
}

var errNotYetOwned = &notYetOwnedError{}

type notYetOwnedError struct{}

func (*notYetOwnedError) Error() string { return "router: target zone has no owner yet" }
