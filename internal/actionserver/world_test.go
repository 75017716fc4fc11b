package actionserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonecore/zonecore/internal/grid"
)

func TestWorldPutGetRemove(t *testing.T) {
	w := NewWorld(grid.Square{X: 1, Y: 2})
	e := grid.Entity{EntityID: "p1", Kind: grid.KindPlayer}
	w.Put(e)

	got, ok := w.Get("p1")
	require.True(t, ok)
	assert.Equal(t, e.EntityID, got.EntityID)

	w.Remove("p1")
	_, ok = w.Get("p1")
	assert.False(t, ok)
}

func TestWorldAdvanceIntegratesNonBulletVelocity(t *testing.T) {
	w := NewWorld(grid.Square{})
	w.Put(grid.Entity{
		EntityID: "p1", Kind: grid.KindPlayer, State: grid.StateActive,
		Position: grid.Vec2{X: 0, Y: 0}, Velocity: grid.Vec2{X: 10, Y: 0},
	})

	w.advance(0.5)

	e, ok := w.Get("p1")
	require.True(t, ok)
	assert.Equal(t, grid.Vec2{X: 5, Y: 0}, e.Position)
	assert.Equal(t, uint64(1), w.Tick())
	assert.InDelta(t, 0.5, w.Now(), 1e-9)
}

func TestWorldAdvanceRemovesDeadNonBullets(t *testing.T) {
	w := NewWorld(grid.Square{})
	w.Put(grid.Entity{EntityID: "e1", Kind: grid.KindEnemy, State: grid.StateDead})
	w.advance(0.1)
	_, ok := w.Get("e1")
	assert.False(t, ok)
}

func TestWorldAdvanceComputesBulletPositionFromSpawnParameters(t *testing.T) {
	w := NewWorld(grid.Square{})
	w.Put(grid.Entity{
		EntityID: "b1", Kind: grid.KindBullet, State: grid.StateActive,
		Origin: grid.Vec2{X: 0, Y: 0}, Velocity: grid.Vec2{X: 40, Y: 0},
		SpawnTimeMonotonic: 0, LifespanSec: 3,
	})

	w.advance(1.0) // simNow -> 1.0

	b, ok := w.Get("b1")
	require.True(t, ok)
	assert.Equal(t, grid.Vec2{X: 40, Y: 0}, b.Position, "a bullet's position is a pure function of (origin, velocity, spawnTime, now)")
}

func TestWorldAdvanceExpiresBulletsPastLifespan(t *testing.T) {
	w := NewWorld(grid.Square{})
	w.Put(grid.Entity{
		EntityID: "b1", Kind: grid.KindBullet, State: grid.StateActive,
		SpawnTimeMonotonic: 0, LifespanSec: 1,
	})

	w.advance(0.5)
	_, ok := w.Get("b1")
	assert.True(t, ok, "not yet expired")

	w.advance(0.6) // simNow -> 1.1, past the 1s lifespan
	_, ok = w.Get("b1")
	assert.False(t, ok, "expired bullets are removed on the tick that crosses lifespan")
}

func TestBoundaryExitsRemovesAndReturnsBulletsPastMargin(t *testing.T) {
	w := NewWorld(grid.Square{X: 0, Y: 0})
	w.Put(grid.Entity{EntityID: "b1", Kind: grid.KindBullet, Position: grid.Vec2{X: 520, Y: 10}})
	w.Put(grid.Entity{EntityID: "b2", Kind: grid.KindBullet, Position: grid.Vec2{X: 250, Y: 10}})

	exited := w.BoundaryExits(500, 8)
	require.Len(t, exited, 1)
	assert.Equal(t, "b1", exited[0].EntityID)

	_, stillThere := w.Get("b1")
	assert.False(t, stillThere)
	_, unaffected := w.Get("b2")
	assert.True(t, unaffected)
}

func TestBoundaryExitsIgnoresNonBullets(t *testing.T) {
	w := NewWorld(grid.Square{X: 0, Y: 0})
	w.Put(grid.Entity{EntityID: "p1", Kind: grid.KindPlayer, Position: grid.Vec2{X: 900, Y: 900}})

	exited := w.BoundaryExits(500, 8)
	assert.Empty(t, exited)
	_, ok := w.Get("p1")
	assert.True(t, ok, "players never leave the world via BoundaryExits; they transition through the router")
}

func TestPlayersNearBoundaryFindsSingleEdgeNeighbor(t *testing.T) {
	w := NewWorld(grid.Square{X: 0, Y: 0})
	w.Put(grid.Entity{EntityID: "p1", Kind: grid.KindPlayer, State: grid.StateActive, Position: grid.Vec2{X: 497, Y: 250}})

	near := w.PlayersNearBoundary(500, 8)
	require.Len(t, near, 1)
	assert.Equal(t, grid.Square{X: 1, Y: 0}, near[0].Neighbor)
}

func TestPlayersNearBoundaryFindsCornerNeighbors(t *testing.T) {
	w := NewWorld(grid.Square{X: 0, Y: 0})
	w.Put(grid.Entity{EntityID: "p1", Kind: grid.KindPlayer, State: grid.StateActive, Position: grid.Vec2{X: 497, Y: 497}})

	near := w.PlayersNearBoundary(500, 8)
	gotNeighbors := make(map[grid.Square]bool)
	for _, bp := range near {
		gotNeighbors[bp.Neighbor] = true
	}
	assert.True(t, gotNeighbors[grid.Square{X: 1, Y: 0}])
	assert.True(t, gotNeighbors[grid.Square{X: 0, Y: 1}])
	assert.True(t, gotNeighbors[grid.Square{X: 1, Y: 1}])
	assert.Len(t, near, 3)
}

func TestPlayersNearBoundaryIgnoresInteriorPlayers(t *testing.T) {
	w := NewWorld(grid.Square{X: 0, Y: 0})
	w.Put(grid.Entity{EntityID: "p1", Kind: grid.KindPlayer, State: grid.StateActive, Position: grid.Vec2{X: 250, Y: 250}})

	assert.Empty(t, w.PlayersNearBoundary(500, 8))
}

func TestNewBulletIDIsUnique(t *testing.T) {
	a := NewBulletID()
	b := NewBulletID()
	assert.NotEqual(t, a, b)
}
