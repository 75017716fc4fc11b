package actionserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/wire"
)

// startTestActionServer wires a real ActionServer grain behind a real
// loopback transport so Client exercises the full wire/session/dispatch
// stack rather than a stub dispatcher.
func startTestActionServer(t *testing.T) (addr string, as *ActionServer) {
	t.Helper()
	as = newTestActionServer()
	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.ActionServerManifest()}}
	sm := rpc.NewSessionManager(manifest, as, zap.NewNop())
	sm.OnConnectHook(func(peerID string, s *rpc.Session) { as.RegisterSession(peerID, s) })
	transport, err := wire.Listen("127.0.0.1:0", wire.DefaultConfig(), sm.Handlers())
	require.NoError(t, err)
	sm.AttachTransport(transport)
	t.Cleanup(func() { transport.Close() })
	return transport.LocalAddr().String(), as
}

func dialTestActionServerClient(t *testing.T, addr string) *Client {
	t.Helper()
	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.ActionServerManifest()}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := rpc.Dial(ctx, addr, "client-test/1.0", manifest,
		rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain }), zap.NewNop())
	require.NoError(t, err)
	return NewClient(session, zap.NewNop())
}

func TestClientConnectPlayerRoundTrips(t *testing.T) {
	addr, as := startTestActionServer(t)
	client := dialTestActionServerClient(t, addr)

	require.NoError(t, client.ConnectPlayer(context.Background(), "player-1", "Alice", grid.Vec2{X: 1, Y: 1}))
	as.runTick(context.Background(), 0)

	_, found := as.world.Get("player-1")
	assert.True(t, found)
}

func TestClientDisconnectPlayerRoundTrips(t *testing.T) {
	addr, as := startTestActionServer(t)
	as.world.Put(grid.Entity{EntityID: "player-1", Kind: grid.KindPlayer})
	client := dialTestActionServerClient(t, addr)

	require.NoError(t, client.DisconnectPlayer(context.Background(), "player-1"))
	as.runTick(context.Background(), 0)

	_, found := as.world.Get("player-1")
	assert.False(t, found)
}

func TestClientUpdatePlayerInputRoundTrips(t *testing.T) {
	addr, as := startTestActionServer(t)
	as.world.Put(grid.Entity{EntityID: "player-1", Kind: grid.KindPlayer})
	client := dialTestActionServerClient(t, addr)

	require.NoError(t, client.UpdatePlayerInput(context.Background(), "player-1", grid.Vec2{X: 2, Y: 3}, false))
	as.runTick(context.Background(), 0)

	e, _ := as.world.Get("player-1")
	assert.Equal(t, grid.Vec2{X: 2, Y: 3}, e.Velocity)
}

func TestClientUpdatePlayerInputFiringSpawnsBullet(t *testing.T) {
	addr, as := startTestActionServer(t)
	as.world.Put(grid.Entity{EntityID: "player-1", Kind: grid.KindPlayer})
	client := dialTestActionServerClient(t, addr)

	require.NoError(t, client.UpdatePlayerInput(context.Background(), "player-1", grid.Vec2{X: 1, Y: 0}, true))
	as.runTick(context.Background(), 0)

	snap := as.world.Snapshot()
	bullets := 0
	for _, e := range snap.Entities {
		if e.Kind == grid.KindBullet {
			bullets++
		}
	}
	assert.Equal(t, 1, bullets)
}

func TestClientUpdatePlayerInputExRoundTrips(t *testing.T) {
	addr, as := startTestActionServer(t)
	as.world.Put(grid.Entity{EntityID: "player-1", Kind: grid.KindPlayer})
	client := dialTestActionServerClient(t, addr)

	require.NoError(t, client.UpdatePlayerInputEx(context.Background(), "player-1", grid.Vec2{}, grid.Vec2{X: 1, Y: 0}, true))
	as.runTick(context.Background(), 0)

	snap := as.world.Snapshot()
	bullets := 0
	for _, e := range snap.Entities {
		if e.Kind == grid.KindBullet {
			bullets++
		}
	}
	assert.Equal(t, 1, bullets)
}

func TestClientGetWorldStateRoundTrips(t *testing.T) {
	addr, as := startTestActionServer(t)
	as.world.Put(grid.Entity{EntityID: "e1", Kind: grid.KindPlayer, State: grid.StateActive})
	client := dialTestActionServerClient(t, addr)

	ws, err := client.GetWorldState(context.Background())
	require.NoError(t, err)
	require.Len(t, ws.Entities, 1)
	assert.Equal(t, "e1", ws.Entities[0].EntityID)
}

func TestClientSubscribeAndUnsubscribeRoundTrips(t *testing.T) {
	addr, _ := startTestActionServer(t)
	client := dialTestActionServerClient(t, addr)

	received := make(chan rpc.ObserverNotify, 1)
	subID, err := client.Subscribe(context.Background(), TopicZoneStats, func(n rpc.ObserverNotify) {
		select {
		case received <- n:
		default:
		}
	})
	require.NoError(t, err)
	assert.NotEqual(t, subID.String(), "00000000-0000-0000-0000-000000000000")

	require.NoError(t, client.Unsubscribe(context.Background(), subID))
}
