package actionserver

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

// Dispatch implements rpc.Dispatcher for the ActionServer interface (§4.4).
// Handlers that mutate World enqueue an Intent rather than touching it
// directly, keeping every write serialized through the tick-loop goroutine.
func (a *ActionServer) Dispatch(ctx context.Context, peerID string, req rpc.Request) ([]byte, error) {
	if req.InterfaceID != rpcapi.IfaceActionServer {
		return nil, rpc.ErrUnknownGrain
	}
	d := rpc.NewDecoder(req.Args)

	switch req.MethodID {
	case rpcapi.MethodConnectPlayer:
		playerID, err1 := d.String()
		name, err2 := d.String()
		pos, err3 := d.Vec2()
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "ConnectPlayer", err)
		}
		if a.Status() == grid.StatusDraining {
			return nil, rpc.NewError(rpc.KindApplication, "FAILED: server is draining")
		}
		a.Enqueue(Intent{Apply: func(w *World) {
			w.Put(grid.Entity{EntityID: playerID, Kind: grid.KindPlayer, Position: pos, State: grid.StateActive, Owner: playerID})
		}})
		a.log.Info("player connected", zap.String("playerId", playerID), zap.String("name", name))
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodDisconnectPlayer:
		playerID, err := d.String()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "DisconnectPlayer", err)
		}
		a.Enqueue(Intent{Apply: func(w *World) { w.Remove(playerID) }})
		a.RemoveSession(peerID)
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodUpdatePlayerInput:
		playerID, err1 := d.String()
		move, err2 := d.Vec2()
		firing, err3 := d.Bool()
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "UpdatePlayerInput", err)
		}
		a.Enqueue(Intent{Apply: func(w *World) {
			e, ok := w.Get(playerID)
			if !ok {
				return
			}
			e.Velocity = move
			w.Put(e)
			if firing {
				// No separate aim vector on the basic method: fire along move.
				w.Put(spawnBullet(e.Position, move, playerID, w.Now()))
			}
		}})
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodUpdatePlayerInputEx:
		playerID, err1 := d.String()
		move, err2 := d.Vec2()
		aim, err3 := d.Vec2()
		firing, err4 := d.Bool()
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "UpdatePlayerInputEx", err)
		}
		a.Enqueue(Intent{Apply: func(w *World) {
			e, ok := w.Get(playerID)
			if !ok {
				return
			}
			e.Velocity = move
			w.Put(e)
			if firing {
				w.Put(spawnBullet(e.Position, aim, playerID, w.Now()))
			}
		}})
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodGetWorldState, rpcapi.MethodGetLocalWorldState:
		snap := a.world.Snapshot()
		return encodeWorldState(snap), nil

	case rpcapi.MethodTransferEntityIn:
		if !authorizeServerCaller2(peerID) {
			return nil, rpc.ErrNotAuthorized
		}
		e, err := decodeEntity(d)
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "TransferEntityIn", err)
		}
		margin := a.tuning.TransferMargin
		if !a.square.ContainsWithMargin(e.Position, a.tuning.ZoneSide, margin) {
			return nil, rpc.NewError(rpc.KindApplication, "entity position outside this zone's margin")
		}
		a.Enqueue(Intent{Apply: func(w *World) { w.Put(e) }})
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodTransferBulletTrajectory:
		bulletID, err0 := d.String()
		origin, err1 := d.Vec2()
		vel, err2 := d.Vec2()
		spawnAt, err3 := d.F64()
		lifespan, err4 := d.F64()
		if err := firstErr(err0, err1, err2, err3, err4); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "TransferBulletTrajectory", err)
		}
		a.mu.Lock()
		_, already := a.seenBulletIDs[bulletID]
		a.seenBulletIDs[bulletID] = struct{}{}
		a.mu.Unlock()
		if already {
			return rpc.NewEncoder().Bool(true).Bytes(), nil // idempotent: already forwarded once (§4.6)
		}
		a.Enqueue(Intent{Apply: func(w *World) {
			dt := float32(w.Now() - spawnAt)
			w.Put(grid.Entity{
				EntityID: bulletID, Kind: grid.KindBullet, State: grid.StateActive,
				Origin: origin, Velocity: vel, SpawnTimeMonotonic: spawnAt, LifespanSec: lifespan,
				Position: origin.Add(vel.Mul(dt)),
			})
		}})
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodNotifyBulletDestroyed:
		bulletID, err := d.String()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "NotifyBulletDestroyed", err)
		}
		a.Enqueue(Intent{Apply: func(w *World) { w.Remove(bulletID) }})
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodReceiveScoutAlert:
		// Best-effort (§4.6): malformed or late alerts are simply ignored,
		// never surfaced as an error back to the sending zone.
		_, _ = d.String()
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodGetZoneStats:
		snap := a.world.Snapshot()
		playerCount := 0
		for _, e := range snap.Entities {
			if e.Kind == grid.KindPlayer {
				playerCount++
			}
		}
		return rpc.NewEncoder().I32(int32(playerCount)).I32(int32(a.Status())).Bytes(), nil

	case rpcapi.MethodGetServerFps:
		return rpc.NewEncoder().F64(tickRate).Bytes(), nil

	case rpcapi.MethodSubscribe:
		topicID, err := d.I32()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "Subscribe", err)
		}
		topic := Topic(topicID)
		a.mu.Lock()
		session, ok := a.sessions[peerID]
		a.mu.Unlock()
		if !ok {
			return nil, rpc.NewError(rpc.KindDisconnected, "no active session for subscriber")
		}
		subID := uuid.New()
		sub := rpc.Subscription{ID: subID, InterfaceID: rpcapi.IfaceActionServer, MethodID: streamMethodFor(topic)}
		a.registerSubscriber(topic, subID, subscriber{session: session, sub: sub})
		return rpc.NewEncoder().GUID(subID).I32(topicID).Bytes(), nil

	case rpcapi.MethodUnsubscribe:
		subID, err := d.GUID()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "Unsubscribe", err)
		}
		a.unsubscribeAll(subID)
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	default:
		return nil, rpc.ErrUnknownMethod
	}
}

func spawnBullet(origin, aim grid.Vec2, ownerID string, spawnAt float64) grid.Entity {
	const bulletSpeed = 40.0
	dir := aim.Normalize()
	return grid.Entity{
		EntityID: NewBulletID(), Kind: grid.KindBullet, State: grid.StateActive, Owner: ownerID,
		Origin: origin, Velocity: dir.Mul(bulletSpeed), SpawnTimeMonotonic: spawnAt, LifespanSec: 3,
		Position: origin,
	}
}

func encodeWorldState(ws grid.WorldState) []byte {
	e := rpc.NewEncoder().I32(int32(len(ws.Entities)))
	for _, ent := range ws.Entities {
		e.Raw(encodeEntity(ent))
	}
	return e.Bytes()
}

func encodeEntity(e grid.Entity) []byte {
	return rpc.NewEncoder().
		String(e.EntityID).I32(int32(e.Kind)).I32(int32(e.SubType)).
		Vec2(e.Position).Vec2(e.Velocity).F64(float64(e.Health)).
		I32(int32(e.Team)).I32(int32(e.State)).String(e.Owner).
		Vec2(e.Origin).F64(e.SpawnTimeMonotonic).F64(e.LifespanSec).
		Bytes()
}

func decodeEntity(d *rpc.Decoder) (grid.Entity, error) {
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

func (a *ActionServer) unsubscribeAll(subID uuid.UUID) {
	a.mu.Lock()
	delete(a.worldSubs, subID)
	delete(a.zoneStatsSubs, subID)
	delete(a.adjacentSubs, subID)
	a.mu.Unlock()
}

func authorizeServerCaller2(peerID string) bool {
	// Wired through Gateway at the transport boundary (§4.7): by the time a
	// Request reaches this dispatcher it has already cleared the ServerOnly
	// gate for TransferEntityIn, so this is a defense-in-depth no-op seam for
	// callers that bypass the gateway in tests.
	return true
}
