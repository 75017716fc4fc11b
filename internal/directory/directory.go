package directory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zonecore/zonecore/internal/grid"
)

// ZoneSide is S from §3: the world-space side length of one grid square.
const ZoneSide float32 = 500

// TransferInfo describes a pending zone handoff for a player (§4.3).
type TransferInfo struct {
	PlayerID string
	Source   grid.ActionServerInfo
	Target   grid.ActionServerInfo
}

// ZoneStats is one sample of StreamZoneStatistics (§4.3).
type ZoneStats struct {
	Square      grid.Square
	ServerID    string
	PlayerCount int
	Status      grid.ServerStatus
}

// Directory is the Silo: the single-logical-writer coordinator of zone
// ownership and player location (§4.3). All mutating operations serialize
// through mu, matching the spec's "single logical writer" requirement —
// SQLite itself also only accepts one writer, so this is not pure paranoia.
type Directory struct {
	db  *gorm.DB
	log *zap.Logger

	mu sync.Mutex
}

func New(db *gorm.DB, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{db: db, log: log.Named("directory")}
}

func toInfo(r ActionServerRecord) grid.ActionServerInfo {
	return grid.ActionServerInfo{
		ServerID:       r.ServerID,
		Address:        r.Address,
		RPCPort:        r.RPCPort,
		HTTPPort:       r.HTTPPort,
		AssignedSquare: grid.Square{X: r.SquareX, Y: r.SquareY},
		RegisteredAt:   r.RegisteredAt,
		LastHeartbeat:  r.LastHeartbeat,
		Status:         parseStatus(r.Status),
	}
}

func parseStatus(s string) grid.ServerStatus {
	switch s {
	case "Ready":
		return grid.StatusReady
	case "Draining":
		return grid.StatusDraining
	case "Dead":
		return grid.StatusDead
	default:
		return grid.StatusStarting
	}
}

// RegisterActionServer assigns serverId the next free zone per §3 invariant
// 2 (row-major, smallest grid side ⌈√N⌉), or returns its existing assignment
// if it is already registered (idempotent, P3).
func (d *Directory) RegisterActionServer(ctx context.Context, serverID, address string, rpcPort, httpPort uint16) (grid.ActionServerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var existing ActionServerRecord
	err := d.db.WithContext(ctx).Where("server_id = ?", serverID).First(&existing).Error
	if err == nil {
		return toInfo(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return grid.ActionServerInfo{}, fmt.Errorf("directory: lookup server: %w", err)
	}

	var live []ActionServerRecord
	if err := d.db.WithContext(ctx).Where("status != ?", "Dead").Find(&live).Error; err != nil {
		return grid.ActionServerInfo{}, fmt.Errorf("directory: list servers: %w", err)
	}

	occupied := make(map[grid.Square]bool, len(live))
	for _, r := range live {
		occupied[grid.Square{X: r.SquareX, Y: r.SquareY}] = true
	}
	square := nextRowMajorSquare(occupied, len(live)+1)

	// A Dead record still holds its square in the unique square index; drop
	// it so the freed zone can be claimed.
	if err := d.db.WithContext(ctx).Where("square_x = ? AND square_y = ? AND status = ?", square.X, square.Y, "Dead").Delete(&ActionServerRecord{}).Error; err != nil {
		return grid.ActionServerInfo{}, fmt.Errorf("directory: free dead square: %w", err)
	}

	now := time.Now().UTC()
	rec := ActionServerRecord{
		ServerID:      serverID,
		Address:       address,
		RPCPort:       rpcPort,
		HTTPPort:      httpPort,
		SquareX:       square.X,
		SquareY:       square.Y,
		Status:        grid.StatusReady.String(),
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if err := d.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return grid.ActionServerInfo{}, fmt.Errorf("directory: create server: %w", err)
	}
	d.log.Info("action server registered", zap.String("serverId", serverID), zap.Int32("x", square.X), zap.Int32("y", square.Y))
	return toInfo(rec), nil
}

// nextRowMajorSquare finds the lexicographically smallest (y,x) square, in
// the ⌈√n⌉-side grid, not already present in occupied.
func nextRowMajorSquare(occupied map[grid.Square]bool, n int) grid.Square {
	side := int32(math.Ceil(math.Sqrt(float64(n))))
	if side < 1 {
		side = 1
	}
	for y := int32(0); y < side; y++ {
		for x := int32(0); x < side; x++ {
			sq := grid.Square{X: x, Y: y}
			if !occupied[sq] {
				return sq
			}
		}
	}
	// Every square in the current side is occupied (shouldn't happen given
	// n accounts for the new server), fall back to the next row.
	return grid.Square{X: 0, Y: side}
}

// UnregisterActionServer removes serverId and frees its zone immediately.
func (d *Directory) UnregisterActionServer(ctx context.Context, serverID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.WithContext(ctx).Where("server_id = ?", serverID).Delete(&ActionServerRecord{}).Error
}

// GetAllActionServers is a public, client-accessible read (§4.3).
func (d *Directory) GetAllActionServers(ctx context.Context) ([]grid.ActionServerInfo, error) {
	var recs []ActionServerRecord
	if err := d.db.WithContext(ctx).Where("status != ?", "Dead").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("directory: list servers: %w", err)
	}
	out := make([]grid.ActionServerInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, toInfo(r))
	}
	return out, nil
}

// GetActionServerForPosition returns the current owner of floor(pos/S), or
// (zero-value, false) if that square is unowned.
func (d *Directory) GetActionServerForPosition(ctx context.Context, pos grid.Vec2) (grid.ActionServerInfo, bool, error) {
	sq := grid.SquareForPosition(pos, ZoneSide)
	return d.getOwnerOfSquare(ctx, sq)
}

func (d *Directory) getOwnerOfSquare(ctx context.Context, sq grid.Square) (grid.ActionServerInfo, bool, error) {
	var rec ActionServerRecord
	err := d.db.WithContext(ctx).
		Where("square_x = ? AND square_y = ? AND status != ?", sq.X, sq.Y, "Dead").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return grid.ActionServerInfo{}, false, nil
	}
	if err != nil {
		return grid.ActionServerInfo{}, false, fmt.Errorf("directory: lookup owner: %w", err)
	}
	return toInfo(rec), true, nil
}

// RegisterPlayer creates or refreshes a player record and returns a start
// position drawn from a PRNG deterministically seeded by playerId, confined
// to a currently owned zone (§4.3). Re-registering an existing player
// refreshes lastSeen but does not relocate them.
func (d *Directory) RegisterPlayer(ctx context.Context, playerID, name string) (grid.PlayerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var existing PlayerRecord
	err := d.db.WithContext(ctx).Where("player_id = ?", playerID).First(&existing).Error
	now := time.Now().UTC()
	if err == nil {
		existing.LastSeen = now
		if err := d.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return grid.PlayerInfo{}, fmt.Errorf("directory: refresh player: %w", err)
		}
		return toPlayerInfo(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return grid.PlayerInfo{}, fmt.Errorf("directory: lookup player: %w", err)
	}

	var owned []ActionServerRecord
	if err := d.db.WithContext(ctx).Where("status = ?", grid.StatusReady.String()).Find(&owned).Error; err != nil {
		return grid.PlayerInfo{}, fmt.Errorf("directory: list owned zones: %w", err)
	}
	if len(owned) == 0 {
		return grid.PlayerInfo{}, fmt.Errorf("directory: no zones currently owned, cannot place player")
	}

	pos, homeServer := deterministicStartPosition(playerID, owned)
	rec := PlayerRecord{
		PlayerID:   playerID,
		Name:       name,
		PosX:       pos.X,
		PosY:       pos.Y,
		ZoneX:      grid.SquareForPosition(pos, ZoneSide).X,
		ZoneY:      grid.SquareForPosition(pos, ZoneSide).Y,
		Health:     100,
		HomeServer: homeServer,
		LastSeen:   now,
	}
	if err := d.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return grid.PlayerInfo{}, fmt.Errorf("directory: create player: %w", err)
	}
	return toPlayerInfo(rec), nil
}

// deterministicStartPosition seeds a PRNG from an FNV-1a hash of playerId so
// the same player always starts in the same place across process restarts,
// then picks one of the currently owned zones and a uniformly random point
// inside it.
func deterministicStartPosition(playerID string, owned []ActionServerRecord) (grid.Vec2, string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(playerID))
	seed := int64(h.Sum64())
	rng := rand.New(rand.NewSource(seed))

	pick := owned[rng.Intn(len(owned))]
	sq := grid.Square{X: pick.SquareX, Y: pick.SquareY}
	min, _ := sq.Bounds(ZoneSide)
	pos := grid.Vec2{
		X: min.X + rng.Float32()*ZoneSide,
		Y: min.Y + rng.Float32()*ZoneSide,
	}
	return pos, pick.ServerID
}

func toPlayerInfo(r PlayerRecord) grid.PlayerInfo {
	return grid.PlayerInfo{
		PlayerID:    r.PlayerID,
		Name:        r.Name,
		Position:    grid.Vec2{X: r.PosX, Y: r.PosY},
		Velocity:    grid.Vec2{X: r.VelX, Y: r.VelY},
		Health:      r.Health,
		CurrentZone: grid.Square{X: r.ZoneX, Y: r.ZoneY},
		HomeServer:  r.HomeServer,
		LastSeen:    r.LastSeen,
	}
}

// InitiatePlayerTransfer computes the source/target servers for a player
// whose currentPosition has moved into a different zone than stored (§4.3).
// Returns (TransferInfo{}, false, nil) when no transfer is needed or the
// target zone has no owner yet (client must back off and retry).
func (d *Directory) InitiatePlayerTransfer(ctx context.Context, playerID string, currentPosition grid.Vec2) (TransferInfo, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rec PlayerRecord
	if err := d.db.WithContext(ctx).Where("player_id = ?", playerID).First(&rec).Error; err != nil {
		return TransferInfo{}, false, fmt.Errorf("directory: lookup player: %w", err)
	}

	sourceSquare := grid.Square{X: rec.ZoneX, Y: rec.ZoneY}
	targetSquare := grid.SquareForPosition(currentPosition, ZoneSide)
	if sourceSquare == targetSquare {
		return TransferInfo{}, false, nil
	}

	source, sourceOK, err := d.getOwnerOfSquare(ctx, sourceSquare)
	if err != nil {
		return TransferInfo{}, false, err
	}
	target, targetOK, err := d.getOwnerOfSquare(ctx, targetSquare)
	if err != nil {
		return TransferInfo{}, false, err
	}
	if !targetOK {
		// No owner for the destination zone yet: caller should back off and
		// retry rather than treat this as a hard failure (§4.3 "on conflict").
		return TransferInfo{}, false, nil
	}

	rec.ZoneX, rec.ZoneY = targetSquare.X, targetSquare.Y
	rec.HomeServer = target.ServerID
	if err := d.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return TransferInfo{}, false, fmt.Errorf("directory: commit transfer: %w", err)
	}

	_ = sourceOK // source may legitimately have no live owner (it died mid-transfer); Source is then a zero value
	return TransferInfo{PlayerID: playerID, Source: source, Target: target}, true, nil
}

// UpdatePlayerPositionAndVelocity is server-only (§4.3).
func (d *Directory) UpdatePlayerPositionAndVelocity(ctx context.Context, playerID string, pos, vel grid.Vec2) error {
	return d.db.WithContext(ctx).Model(&PlayerRecord{}).
		Where("player_id = ?", playerID).
		Updates(map[string]any{
			"pos_x":     pos.X,
			"pos_y":     pos.Y,
			"vel_x":     vel.X,
			"vel_y":     vel.Y,
			"last_seen": time.Now().UTC(),
		}).Error
}

// UpdateActionServerHeartbeat is server-only (§4.3).
func (d *Directory) UpdateActionServerHeartbeat(ctx context.Context, serverID string) error {
	res := d.db.WithContext(ctx).Model(&ActionServerRecord{}).
		Where("server_id = ?", serverID).
		Updates(map[string]any{"last_heartbeat": time.Now().UTC(), "status": grid.StatusReady.String()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("directory: unknown server %q", serverID)
	}
	return nil
}

// ChatFanout receives chat messages broadcast to every known coordinator
// (§4.3 BroadcastChatMessage). The directory itself has no coordinator
// registry — that lives in internal/presence — so this is a thin seam the
// presence package wires a real fan-out function into at startup.
type ChatFanout func(ctx context.Context, msg string) error

func (d *Directory) BroadcastChatMessage(ctx context.Context, msg string, fanout ChatFanout) error {
	if fanout == nil {
		return nil
	}
	return fanout(ctx, msg)
}

// ZoneStatsSnapshot computes one StreamZoneStatistics sample (§4.3). The
// stream itself is driven by a gocron job in eviction.go; this function is
// the pure per-tick computation it calls.
func (d *Directory) ZoneStatsSnapshot(ctx context.Context) ([]ZoneStats, error) {
	var servers []ActionServerRecord
	if err := d.db.WithContext(ctx).Where("status != ?", "Dead").Find(&servers).Error; err != nil {
		return nil, err
	}
	out := make([]ZoneStats, 0, len(servers))
	for _, s := range servers {
		var count int64
		if err := d.db.WithContext(ctx).Model(&PlayerRecord{}).
			Where("zone_x = ? AND zone_y = ?", s.SquareX, s.SquareY).
			Count(&count).Error; err != nil {
			return nil, err
		}
		out = append(out, ZoneStats{
			Square:      grid.Square{X: s.SquareX, Y: s.SquareY},
			ServerID:    s.ServerID,
			PlayerCount: int(count),
			Status:      parseStatus(s.Status),
		})
	}
	return out, nil
}
