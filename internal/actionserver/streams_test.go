package actionserver

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/config"
	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/wire"
)

// dialLoopbackSession stands up a real echo server and dials it, giving
// tests a live *rpc.Session to hand notify() so it doesn't dereference nil.
func dialLoopbackSession(t *testing.T) *rpc.Session {
	t.Helper()
	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.ActionServerManifest()}}
	sm := rpc.NewSessionManager(manifest, rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) {
		return nil, rpc.ErrUnknownMethod
	}), zap.NewNop())
	transport, err := wire.Listen("127.0.0.1:0", wire.DefaultConfig(), sm.Handlers())
	require.NoError(t, err)
	sm.AttachTransport(transport)
	t.Cleanup(func() { transport.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := rpc.Dial(ctx, transport.LocalAddr().String(), "streams-test/1.0", manifest,
		rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain }), zap.NewNop())
	require.NoError(t, err)
	return session
}

func TestStreamMethodForMapsEachTopic(t *testing.T) {
	assert.Equal(t, rpcapi.MethodStreamWorldStateUpdates, streamMethodFor(TopicWorldState))
	assert.Equal(t, rpcapi.MethodStreamZoneStatisticsAS, streamMethodFor(TopicZoneStats))
	assert.Equal(t, rpcapi.MethodStreamAdjacentZoneEntities, streamMethodFor(TopicAdjacentZones))
}

func TestRegisterSubscriberPlacesIntoMatchingTopicMap(t *testing.T) {
	as := newTestActionServer()
	id := uuid.New()
	as.registerSubscriber(TopicAdjacentZones, id, subscriber{})

	as.mu.Lock()
	_, inAdjacent := as.adjacentSubs[id]
	_, inWorld := as.worldSubs[id]
	as.mu.Unlock()
	assert.True(t, inAdjacent)
	assert.False(t, inWorld)
}

// fakeAdjacentQuerier lets pushAdjacentZones be exercised without a real
// fabric client.
type fakeAdjacentQuerier struct {
	states []grid.WorldState
}

func (f *fakeAdjacentQuerier) QueryAdjacent(context.Context, grid.Square) []grid.WorldState {
	return f.states
}

func (f *fakeAdjacentQuerier) ForwardBullet(context.Context, string, grid.Entity, grid.Square) error {
	return nil
}

func (f *fakeAdjacentQuerier) SendScoutAlertForSquare(context.Context, grid.Square, string) {}

func TestPushAdjacentZonesNoopsWithoutFabric(t *testing.T) {
	as := New("as-1", grid.Square{}, config.DefaultTuning(), nil, nil, nil, zap.NewNop())
	// No fabric wired: must not panic.
	as.pushAdjacentZones(uuid.New(), subscriber{})
}

func TestPushAdjacentZonesWithFabricResultsDoesNotPanic(t *testing.T) {
	fabric := &fakeAdjacentQuerier{states: []grid.WorldState{{Entities: []grid.Entity{{EntityID: "e1", Kind: grid.KindPlayer}}}}}
	as := New("as-1", grid.Square{}, config.DefaultTuning(), nil, fabric, nil, zap.NewNop())

	session := dialLoopbackSession(t)
	as.pushAdjacentZones(uuid.New(), subscriber{session: session, sub: rpc.Subscription{MethodID: rpcapi.MethodStreamAdjacentZoneEntities}})
	// No assertion beyond "did not panic or block": delivery is best-effort
	// over an unreliable channel per §4.6, so the peer observing the frame
	// isn't guaranteed within a single send.
}

func TestSnapshotSubsReturnsACopyNotTheLiveMap(t *testing.T) {
	as := newTestActionServer()
	id := uuid.New()
	as.mu.Lock()
	as.worldSubs[id] = subscriber{}
	as.mu.Unlock()

	snapshotFn := as.snapshotSubs(func() map[uuid.UUID]subscriber { return as.worldSubs })
	snap := snapshotFn()
	require.Len(t, snap, 1)

	as.mu.Lock()
	as.worldSubs[uuid.New()] = subscriber{}
	as.mu.Unlock()

	// The earlier snapshot must not observe the later mutation.
	assert.Len(t, snap, 1)
}

func TestPushLoopStopsOnContextCancel(t *testing.T) {
	as := newTestActionServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		as.pushLoop(ctx, time.Millisecond, func() map[uuid.UUID]subscriber { return nil }, func(uuid.UUID, subscriber) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pushLoop did not return after context cancellation")
	}
}
