// Package grid holds the world-partition data model shared by every
// component: grid squares, the small value types that cross the wire, and
// the entity/player/server records the directory and action servers own.
package grid

import "math"

// Vec2 is the 2-D position/velocity type used throughout the simulation and
// the wire codec (§6 baseline marker 8/9). Matches the C++ engine's Vector2
// layout: two packed float32s.
type Vec2 struct {
	X, Y float32
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Mul(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Dot(o Vec2) float32 { return v.X*o.X + v.Y*o.Y }

func (v Vec2) Magnitude() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

func (v Vec2) Normalize() Vec2 {
	m := v.Magnitude()
	if m == 0 {
		return Vec2{}
	}
	return v.Mul(1 / m)
}

// Square identifies a zone cell. Bounds are [X*S, (X+1)*S) x [Y*S, (Y+1)*S).
type Square struct {
	X, Y int32
}

// SquareForPosition returns the zone containing pos, given a zone side S.
func SquareForPosition(pos Vec2, side float32) Square {
	return Square{
		X: int32(math.Floor(float64(pos.X / side))),
		Y: int32(math.Floor(float64(pos.Y / side))),
	}
}

// Bounds returns the world-space rectangle owned by the square.
func (s Square) Bounds(side float32) (min, max Vec2) {
	min = Vec2{float32(s.X) * side, float32(s.Y) * side}
	max = Vec2{float32(s.X+1) * side, float32(s.Y+1) * side}
	return min, max
}

// ContainsWithMargin reports whether pos lies within the square's bounds
// expanded by margin on every side (§4.4 TransferEntityIn jitter margin).
func (s Square) ContainsWithMargin(pos Vec2, side, margin float32) bool {
	min, max := s.Bounds(side)
	return pos.X >= min.X-margin && pos.X < max.X+margin &&
		pos.Y >= min.Y-margin && pos.Y < max.Y+margin
}

// Adjacent reports whether two squares are neighbors under the 8-connected
// rule: |dx|<=1 && |dy|<=1 && (dx,dy) != (0,0).
func (s Square) Adjacent(o Square) bool {
	dx := s.X - o.X
	dy := s.Y - o.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx <= 1 && dy <= 1 && (dx != 0 || dy != 0)
}

// Neighbors returns the 8 adjacent squares (§4.6 adjacent queries).
func (s Square) Neighbors() []Square {
	out := make([]Square, 0, 8)
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, Square{s.X + dx, s.Y + dy})
		}
	}
	return out
}

// RowMajorLess orders squares by (y,x) — the order the directory assigns
// zones in (§3 invariant 2, P2).
func RowMajorLess(a, b Square) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}
