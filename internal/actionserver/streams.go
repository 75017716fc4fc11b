package actionserver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/wire"
)

// Topic selects which of the three observer streams a Subscribe call joins
// (§4.4 StreamWorldStateUpdates ~60Hz / StreamZoneStatistics 1Hz /
// StreamAdjacentZoneEntities 10Hz).
type Topic int32

const (
	TopicWorldState Topic = iota
	TopicZoneStats
	TopicAdjacentZones
)

func streamMethodFor(t Topic) int32 {
	switch t {
	case TopicZoneStats:
		return rpcapi.MethodStreamZoneStatisticsAS
	case TopicAdjacentZones:
		return rpcapi.MethodStreamAdjacentZoneEntities
	default:
		return rpcapi.MethodStreamWorldStateUpdates
	}
}

func (a *ActionServer) registerSubscriber(t Topic, subID uuid.UUID, sub subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch t {
	case TopicZoneStats:
		a.zoneStatsSubs[subID] = sub
	case TopicAdjacentZones:
		a.adjacentSubs[subID] = sub
	default:
		a.worldSubs[subID] = sub
	}
}

// RunStreams drives the three observer push loops at their respective
// cadences until ctx is cancelled. Each loop snapshots the subscriber map
// under lock, then sends outside the lock so a slow peer never blocks the
// others.
func (a *ActionServer) RunStreams(ctx context.Context) {
	go a.pushLoop(ctx, time.Second/60, a.snapshotSubs(func() map[uuid.UUID]subscriber { return a.worldSubs }), a.pushWorldState)
	go a.pushLoop(ctx, time.Second, a.snapshotSubs(func() map[uuid.UUID]subscriber { return a.zoneStatsSubs }), a.pushZoneStats)
	go a.pushLoop(ctx, time.Second/10, a.snapshotSubs(func() map[uuid.UUID]subscriber { return a.adjacentSubs }), a.pushAdjacentZones)
}

func (a *ActionServer) snapshotSubs(pick func() map[uuid.UUID]subscriber) func() map[uuid.UUID]subscriber {
	return func() map[uuid.UUID]subscriber {
		a.mu.Lock()
		defer a.mu.Unlock()
		src := pick()
		out := make(map[uuid.UUID]subscriber, len(src))
		for k, v := range src {
			out[k] = v
		}
		return out
	}
}

func (a *ActionServer) pushLoop(ctx context.Context, interval time.Duration, snapshot func() map[uuid.UUID]subscriber, push func(subID uuid.UUID, sub subscriber)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for subID, sub := range snapshot() {
				push(subID, sub)
			}
		}
	}
}

func (a *ActionServer) pushWorldState(subID uuid.UUID, sub subscriber) {
	payload := encodeWorldState(a.world.Snapshot())
	a.notify(subID, sub, payload)
}

func (a *ActionServer) pushZoneStats(subID uuid.UUID, sub subscriber) {
	snap := a.world.Snapshot()
	count := 0
	for _, e := range snap.Entities {
		if e.Kind == grid.KindPlayer {
			count++
		}
	}
	payload := rpc.NewEncoder().I32(int32(count)).I32(int32(a.Status())).Bytes()
	a.notify(subID, sub, payload)
}

func (a *ActionServer) pushAdjacentZones(subID uuid.UUID, sub subscriber) {
	if a.fabric == nil {
		return
	}
	states := a.fabric.QueryAdjacent(context.Background(), a.square)
	e := rpc.NewEncoder().I32(int32(len(states)))
	for _, ws := range states {
		e.Raw(encodeWorldState(ws))
	}
	a.notify(subID, sub, e.Bytes())
}

func (a *ActionServer) notify(subID uuid.UUID, sub subscriber, args []byte) {
	n := rpc.ObserverNotify{SubscriptionID: subID, InterfaceID: rpcapi.IfaceActionServer, MethodID: sub.sub.MethodID, Args: args}
	if err := sub.session.Notify(n, wire.Unreliable); err != nil {
		if a.metrics != nil {
			a.metrics.ObserverDropsTotal.Inc()
		}
		a.log.Debug("dropped observer notification", zap.Error(err))
	}
}
