// Package fabric implements the cross-zone transport of §4.6: forwarding a
// bullet's canonical trajectory across a zone boundary, best-effort scout
// alerts, and the 8-way adjacent-zone fan-out queries that back
// StreamAdjacentZoneEntities.
package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

const adjacentQueryTimeout = 200 * time.Millisecond

// PeerDialer opens a session to a neighboring action server's RPC endpoint.
// actionserver's cmd wiring supplies the real UDP dial; tests can supply a
// fake.
type PeerDialer func(ctx context.Context, addr string) (*rpc.Session, error)

// Client maintains short-lived sessions to neighboring action servers,
// discovered through the directory, and caches them in a bounded LRU since a
// busy zone may border many others over a long server lifetime.
type Client struct {
	dir    *directory.Client
	dial   PeerDialer
	log    *zap.Logger
	cache  *lru.Cache[string, *rpc.Session]
	mu     sync.Mutex
}

func NewClient(dir *directory.Client, dial PeerDialer, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	cache, _ := lru.New[string, *rpc.Session](64)
	return &Client{dir: dir, dial: dial, log: log.Named("fabric"), cache: cache}
}

func (c *Client) sessionFor(ctx context.Context, info grid.ActionServerInfo) (*rpc.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache.Get(info.ServerID); ok && s.State() == rpc.StateReady {
		return s, nil
	}
	addr := fmt.Sprintf("%s:%d", info.Address, info.RPCPort)
	s, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	c.cache.Add(info.ServerID, s)
	return s, nil
}

// ForwardBullet reships a bullet's canonical spawn-origin trajectory to
// whichever zone currently owns its destination square (§4.6). Forwarding
// is keyed by bulletId so the receiver's TransferBulletTrajectory can no-op
// on a duplicate delivery.
func (c *Client) ForwardBullet(ctx context.Context, bulletID string, e grid.Entity, targetSquare grid.Square) error {
	target, ok, err := c.dir.GetActionServerForPosition(ctx, grid.Vec2{
		X: float32(targetSquare.X)*directory.ZoneSide + 1,
		Y: float32(targetSquare.Y)*directory.ZoneSide + 1,
	})
	if err != nil {
		return fmt.Errorf("fabric: resolve target zone owner: %w", err)
	}
	if !ok {
		return fmt.Errorf("fabric: no owner for target zone %+v", targetSquare)
	}
	session, err := c.sessionFor(ctx, target)
	if err != nil {
		return fmt.Errorf("fabric: dial %s: %w", target.ServerID, err)
	}
	args := rpc.NewEncoder().String(bulletID).Vec2(e.Origin).Vec2(e.Velocity).F64(e.SpawnTimeMonotonic).F64(e.LifespanSec).Bytes()
	_, err = session.Call(ctx, rpcapi.IfaceActionServer, rpcapi.MethodTransferBulletTrajectory, args)
	return err
}

// SendScoutAlert is a fire-and-forget notice to a neighboring zone. Per
// §4.6 this is best-effort: a failed send is logged, never retried or
// surfaced to the caller.
func (c *Client) SendScoutAlert(ctx context.Context, target grid.ActionServerInfo, message string) {
	session, err := c.sessionFor(ctx, target)
	if err != nil {
		c.log.Debug("scout alert: dial failed", zap.String("target", target.ServerID), zap.Error(err))
		return
	}
	args := rpc.NewEncoder().String(message).Bytes()
	if _, err := session.Call(ctx, rpcapi.IfaceActionServer, rpcapi.MethodReceiveScoutAlert, args); err != nil {
		c.log.Debug("scout alert: call failed", zap.String("target", target.ServerID), zap.Error(err))
	}
}

// SendScoutAlertForSquare resolves square's current owner and forwards a
// best-effort scout alert to it (§4.6). Like SendScoutAlert, a missing owner
// or failed dial is logged and dropped, never surfaced to the caller.
func (c *Client) SendScoutAlertForSquare(ctx context.Context, square grid.Square, message string) {
	target, ok, err := c.dir.GetActionServerForPosition(ctx, grid.Vec2{
		X: float32(square.X)*directory.ZoneSide + 1,
		Y: float32(square.Y)*directory.ZoneSide + 1,
	})
	if err != nil || !ok {
		c.log.Debug("scout alert: no owner for neighbor square", zap.Any("square", square), zap.Error(err))
		return
	}
	c.SendScoutAlert(ctx, target, message)
}

// QueryAdjacent fans out GetLocalWorldState to the 8 neighboring zones in
// parallel with a 200ms budget (§4.6). A neighbor that doesn't answer in
// time, has no owner, or errors simply contributes nothing — the result is
// an empty-list-on-failure per zone, not a failed call overall.
func (c *Client) QueryAdjacent(ctx context.Context, square grid.Square) []grid.WorldState {
	ctx, cancel := context.WithTimeout(ctx, adjacentQueryTimeout)
	defer cancel()

	all, err := c.dir.GetAllActionServers(ctx)
	if err != nil {
		c.log.Debug("adjacent query: directory lookup failed", zap.Error(err))
		return nil
	}
	neighbors := make([]grid.ActionServerInfo, 0, 8)
	for _, info := range all {
		if square.Adjacent(info.AssignedSquare) {
			neighbors = append(neighbors, info)
		}
	}

	results := make([]grid.WorldState, len(neighbors))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range neighbors {
		i, n := i, n
		g.Go(func() error {
			ws, err := c.getLocalWorldState(gctx, n)
			if err != nil {
				c.log.Debug("adjacent query: neighbor failed", zap.String("neighbor", n.ServerID), zap.Error(err))
				return nil // swallow: empty-list-on-failure per neighbor, not for the whole query
			}
			results[i] = ws
			return nil
		})
	}
	_ = g.Wait()

	out := make([]grid.WorldState, 0, len(results))
	for _, r := range results {
		if len(r.Entities) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func (c *Client) getLocalWorldState(ctx context.Context, info grid.ActionServerInfo) (grid.WorldState, error) {
	session, err := c.sessionFor(ctx, info)
	if err != nil {
		return grid.WorldState{}, err
	}
	res, err := session.Call(ctx, rpcapi.IfaceActionServer, rpcapi.MethodGetLocalWorldState, nil)
	if err != nil {
		return grid.WorldState{}, err
	}
	return decodeWorldState(res)
}

func decodeWorldState(data []byte) (grid.WorldState, error) {
	d := rpc.NewDecoder(data)
	n, err := d.I32()
	if err != nil {
		return grid.WorldState{}, err
	}
	out := make([]grid.Entity, 0, n)
	for i := int32(0); i < n; i++ {
		e, err := decodeEntityWire(d)
		if err != nil {
			return grid.WorldState{}, err
		}
		out = append(out, e)
	}
	return grid.WorldState{Entities: out}, nil
}

func decodeEntityWire(d *rpc.Decoder) (grid.Entity, error) {
	id, err := d.String()
	if err != nil {
		return grid.Entity{}, err
	}
	kind, err := d.I32()
	if err != nil {
		return grid.Entity{}, err
	}
	subType, err := d.I32()
	if err != nil {
		return grid.Entity{}, err
	}
	pos, err := d.Vec2()
	if err != nil {
		return grid.Entity{}, err
	}
	vel, err := d.Vec2()
	if err != nil {
		return grid.Entity{}, err
	}
	health, err := d.F64()
	if err != nil {
		return grid.Entity{}, err
	}
	team, err := d.I32()
	if err != nil {
		return grid.Entity{}, err
	}
	state, err := d.I32()
	if err != nil {
		return grid.Entity{}, err
	}
	owner, err := d.String()
	if err != nil {
		return grid.Entity{}, err
	}
	origin, err := d.Vec2()
	if err != nil {
		return grid.Entity{}, err
	}
	spawnAt, err := d.F64()
	if err != nil {
		return grid.Entity{}, err
	}
	lifespan, err := d.F64()
	if err != nil {
		return grid.Entity{}, err
	}
	return grid.Entity{
		EntityID: id, Kind: grid.EntityKind(kind), SubType: int8(subType),
		Position: pos, Velocity: vel, Health: float32(health), Team: uint8(team),
		State: grid.EntityState(state), Owner: owner,
		Origin: origin, SpawnTimeMonotonic: spawnAt, LifespanSec: lifespan,
	}, nil
}
