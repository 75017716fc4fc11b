package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec2Arithmetic(t *testing.T) {
	a := Vec2{X: 1, Y: 2}
	b := Vec2{X: 3, Y: -1}

	assert.Equal(t, Vec2{X: 4, Y: 1}, a.Add(b))
	assert.Equal(t, Vec2{X: -2, Y: 3}, a.Sub(b))
	assert.Equal(t, Vec2{X: 2, Y: 4}, a.Mul(2))
	assert.Equal(t, float32(1), a.Dot(b))
}

func TestVec2NormalizeZeroIsZero(t *testing.T) {
	assert.Equal(t, Vec2{}, Vec2{}.Normalize())
}

func TestVec2NormalizeUnitMagnitude(t *testing.T) {
	n := Vec2{X: 3, Y: 4}.Normalize()
	assert.InDelta(t, 1.0, float64(n.Magnitude()), 1e-6)
}

func TestSquareForPosition(t *testing.T) {
	const side = float32(500)
	cases := []struct {
		pos  Vec2
		want Square
	}{
		{Vec2{X: 0, Y: 0}, Square{X: 0, Y: 0}},
		{Vec2{X: 499, Y: 0}, Square{X: 0, Y: 0}},
		{Vec2{X: 500, Y: 0}, Square{X: 1, Y: 0}},
		{Vec2{X: -1, Y: 0}, Square{X: -1, Y: 0}},
		{Vec2{X: -500, Y: -500}, Square{X: -1, Y: -1}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SquareForPosition(c.pos, side), "pos=%v", c.pos)
	}
}

func TestSquareContainsWithMargin(t *testing.T) {
	const side = float32(500)
	sq := Square{X: 0, Y: 0}

	assert.True(t, sq.ContainsWithMargin(Vec2{X: 250, Y: 250}, side, 8))
	assert.True(t, sq.ContainsWithMargin(Vec2{X: -5, Y: 0}, side, 8), "within margin on the low edge")
	assert.False(t, sq.ContainsWithMargin(Vec2{X: -9, Y: 0}, side, 8), "outside margin on the low edge")
	assert.True(t, sq.ContainsWithMargin(Vec2{X: 505, Y: 0}, side, 8), "within margin on the high edge")
	assert.False(t, sq.ContainsWithMargin(Vec2{X: 509, Y: 0}, side, 8), "outside margin on the high edge")
}

func TestSquareAdjacentIsEightConnectedExcludingSelf(t *testing.T) {
	center := Square{X: 5, Y: 5}
	assert.False(t, center.Adjacent(center), "a square is not its own neighbor")
	assert.True(t, center.Adjacent(Square{X: 6, Y: 6}))
	assert.True(t, center.Adjacent(Square{X: 4, Y: 5}))
	assert.False(t, center.Adjacent(Square{X: 7, Y: 5}))
}

func TestSquareNeighborsCountAndUniqueness(t *testing.T) {
	center := Square{X: 0, Y: 0}
	neighbors := center.Neighbors()
	assert.Len(t, neighbors, 8)

	seen := make(map[Square]bool, len(neighbors))
	for _, n := range neighbors {
		assert.False(t, seen[n], "duplicate neighbor %v", n)
		seen[n] = true
		assert.True(t, center.Adjacent(n))
	}
}

func TestRowMajorLessOrdersByYThenX(t *testing.T) {
	assert.True(t, RowMajorLess(Square{X: 5, Y: 0}, Square{X: 0, Y: 1}), "lower row always sorts first regardless of column")
	assert.True(t, RowMajorLess(Square{X: 0, Y: 0}, Square{X: 1, Y: 0}))
	assert.False(t, RowMajorLess(Square{X: 1, Y: 0}, Square{X: 0, Y: 0}))
	assert.False(t, RowMajorLess(Square{X: 0, Y: 0}, Square{X: 0, Y: 0}))
}

func TestEntityPositionAtIsPureFunctionOfSpawnParameters(t *testing.T) {
	e := Entity{
		Origin:             Vec2{X: 0, Y: 0},
		Velocity:           Vec2{X: 10, Y: 0},
		SpawnTimeMonotonic: 100.0,
	}
	assert.Equal(t, Vec2{X: 0, Y: 0}, e.PositionAt(100.0))
	assert.Equal(t, Vec2{X: 50, Y: 0}, e.PositionAt(105.0))

	// Re-deriving from the same four inputs at a later wall-clock time must
	// reproduce the same answer: the whole point of invariant 4.
	again := e.PositionAt(105.0)
	assert.Equal(t, again, e.PositionAt(105.0))
}

func TestEntityExpired(t *testing.T) {
	e := Entity{SpawnTimeMonotonic: 10, LifespanSec: 3}
	assert.False(t, e.Expired(12))
	assert.False(t, e.Expired(13))
	assert.True(t, e.Expired(13.01))
}
