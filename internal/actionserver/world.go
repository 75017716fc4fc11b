// Package actionserver implements one zone's authoritative simulation: a
// fixed 60Hz tick loop, the player-facing and server-facing grain methods of
// §4.4, and the Draining transition triggered by a lost directory connection.
package actionserver

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zonecore/zonecore/internal/grid"
)

// Intent is one queued mutation the tick loop applies at the start of its
// next tick. RPC handlers never touch World directly — they enqueue an
// Intent and return, keeping every write serialized through the single
// simulation goroutine (§4.4 "ticks advance simulation time deterministically").
type Intent struct {
	Apply func(w *World)
}

// World is one zone's live entity set. Owned exclusively by the tick-loop
// goroutine; any other goroutine that needs a read takes Snapshot().
type World struct {
	mu       sync.RWMutex
	entities map[string]grid.Entity
	square   grid.Square
	tick     uint64
	simNow   float64 // monotonic seconds, advances by dt each tick
}

func NewWorld(square grid.Square) *World {
	return &World{entities: make(map[string]grid.Entity), square: square}
}

func (w *World) Square() grid.Square { return w.square }

func (w *World) Now() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.simNow
}

func (w *World) Tick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// Put inserts or replaces an entity.
func (w *World) Put(e grid.Entity) {
	w.mu.Lock()
	w.entities[e.EntityID] = e
	w.mu.Unlock()
}

// Get returns an entity by id.
func (w *World) Get(id string) (grid.Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	return e, ok
}

// Remove deletes an entity, e.g. on disconnect or bullet destruction.
func (w *World) Remove(id string) {
	w.mu.Lock()
	delete(w.entities, id)
	w.mu.Unlock()
}

// Snapshot returns a point-in-time copy of every live entity (§4.4
// GetWorldState/GetLocalWorldState).
func (w *World) Snapshot() grid.WorldState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]grid.Entity, 0, len(w.entities))
	for _, e := range w.entities {
		out = append(out, e)
	}
	return grid.WorldState{Entities: out}
}

// advance applies one simulation step: integrates non-bullet entities by
// velocity*dt (bullets are a pure function of time, per invariant 4, so they
// are never integrated — only checked for expiry), clamps dt per
// config.Tuning.MaxTickDT upstream of this call.
func (w *World) advance(dtSeconds float32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.simNow += float64(dtSeconds)
	w.tick++

	for id, e := range w.entities {
		switch e.Kind {
		case grid.KindBullet:
			if e.Expired(w.simNow) {
				delete(w.entities, id)
				continue
			}
			e.Position = e.PositionAt(w.simNow)
			w.entities[id] = e
		default:
			if e.State == grid.StateDead {
				delete(w.entities, id)
				continue
			}
			e.Position = e.Position.Add(e.Velocity.Mul(dtSeconds))
			w.entities[id] = e
		}
	}
}

// BoundaryExits removes and returns bullets whose position has left the
// zone's bounds plus the hysteresis margin (§4.4 tick step (d)). Only
// bullets are forwarded this way — players transition zones through the
// client-side Router (§4.5) rather than server-initiated handoff.
func (w *World) BoundaryExits(side, margin float32) []grid.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []grid.Entity
	for id, e := range w.entities {
		if e.Kind != grid.KindBullet {
			continue
		}
		if !w.square.ContainsWithMargin(e.Position, side, margin) {
			delete(w.entities, id)
			out = append(out, e)
		}
	}
	return out
}

// BoundaryProximity pairs a player entity with a neighboring square its
// position is within the hysteresis margin of.
type BoundaryProximity struct {
	Entity   grid.Entity
	Neighbor grid.Square
}

// PlayersNearBoundary reports every active player within margin of a shared
// edge, paired with the neighboring square(s) across that edge (§4.6 scout
// alerts: "any adjacent zone's AI emits ReceiveScoutAlert ... to bias enemy
// movement" — read as the zone holding the player alerting its neighbor
// ahead of the player actually crossing). A player near a corner yields both
// straight neighbors and the diagonal one.
func (w *World) PlayersNearBoundary(side, margin float32) []BoundaryProximity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	min, max := w.square.Bounds(side)
	var out []BoundaryProximity
	for _, e := range w.entities {
		if e.Kind != grid.KindPlayer || e.State != grid.StateActive {
			continue
		}
		dxs := []int32{0}
		if e.Position.X-min.X < margin {
			dxs = append(dxs, -1)
		}
		if max.X-e.Position.X < margin {
			dxs = append(dxs, 1)
		}
		dys := []int32{0}
		if e.Position.Y-min.Y < margin {
			dys = append(dys, -1)
		}
		if max.Y-e.Position.Y < margin {
			dys = append(dys, 1)
		}
		for _, dx := range dxs {
			for _, dy := range dys {
				if dx == 0 && dy == 0 {
					continue
				}
				out = append(out, BoundaryProximity{
					Entity:   e,
					Neighbor: grid.Square{X: w.square.X + dx, Y: w.square.Y + dy},
				})
			}
		}
	}
	return out
}

// NewBulletID mints an id for a freshly spawned bullet. Bullet identity must
// be globally unique across zones since a bullet can cross a boundary and be
// re-keyed by TransferBulletTrajectory on the receiving side using the same
// id (idempotency key, §4.6).
func NewBulletID() string {
	return uuid.NewString()
}
