package grid

import "time"

// ServerStatus is an ActionServerInfo's lifecycle state (§3).
type ServerStatus int

const (
	StatusStarting ServerStatus = iota
	StatusReady
	StatusDraining
	StatusDead
)

func (s ServerStatus) String() string {
	switch s {
	case StatusStarting:
		return "Starting"
	case StatusReady:
		return "Ready"
	case StatusDraining:
		return "Draining"
	case StatusDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ActionServerInfo is a zone owner's directory record (§3).
type ActionServerInfo struct {
	ServerID       string
	Address        string
	RPCPort        uint16
	HTTPPort       uint16
	AssignedSquare Square
	RegisteredAt   time.Time
	LastHeartbeat  time.Time
	Status         ServerStatus
}

// PlayerInfo is a player's directory record (§3).
type PlayerInfo struct {
	PlayerID    string
	Name        string
	Position    Vec2
	Velocity    Vec2
	Health      float32
	CurrentZone Square
	HomeServer  string // empty if none
	LastSeen    time.Time
}

// EntityKind classifies simulation entities (§3).
type EntityKind int8

const (
	KindPlayer EntityKind = iota
	KindEnemy
	KindBullet
	KindFactory
	KindAsteroid
)

// EntityState is the lifecycle of a simulated entity (§3).
type EntityState int8

const (
	StateActive EntityState = iota
	StateDying
	StateDead
)

// Entity is a simulated object inside a zone (§3). Bullets additionally
// carry Origin/SpawnTimeMonotonic/LifespanSec so their position is a pure
// function of those fields until expiry or an explicit destroy notice
// (invariant 4).
type Entity struct {
	EntityID string
	Kind     EntityKind
	SubType  int8
	Position Vec2
	Velocity Vec2
	Health   float32
	Team     uint8
	State    EntityState
	Owner    string // playerId, empty if none

	// Bullet-only trajectory parameters.
	Origin            Vec2
	SpawnTimeMonotonic float64
	LifespanSec       float64
}

// PositionAt computes a bullet's deterministic position at monotonic time
// now, per invariant 4: pure function of (origin, velocity, spawnTime, now).
func (e Entity) PositionAt(now float64) Vec2 {
	dt := float32(now - e.SpawnTimeMonotonic)
	return e.Origin.Add(e.Velocity.Mul(dt))
}

// Expired reports whether the bullet has outlived its lifespan at time now.
func (e Entity) Expired(now float64) bool {
	return now-e.SpawnTimeMonotonic > e.LifespanSec
}

// WorldState is a simulation snapshot (§4.4 GetWorldState).
type WorldState struct {
	Entities  []Entity
	Timestamp time.Time
}
