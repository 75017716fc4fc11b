package fabric

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/wire"
)

func newTestDirectoryClient(t *testing.T) *directory.Client {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "fabric-test.db")
	db, err := directory.OpenStore(directory.StoreConfig{DSN: dsn, Logger: zap.NewNop()})
	require.NoError(t, err)
	dir := directory.New(db, zap.NewNop())
	grain := directory.NewGrain(dir, nil, zap.NewNop())

	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.DirectoryManifest()}}
	sm := rpc.NewSessionManager(manifest, grain, zap.NewNop())
	transport, err := wire.Listen("127.0.0.1:0", wire.DefaultConfig(), sm.Handlers())
	require.NoError(t, err)
	sm.AttachTransport(transport)
	t.Cleanup(func() { transport.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := rpc.Dial(ctx, transport.LocalAddr().String(), "fabric-test/1.0", manifest,
		rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain }), zap.NewNop())
	require.NoError(t, err)
	return directory.NewClient(session, zap.NewNop())
}

// startFakeActionServer runs a bare-bones ActionServer-interface endpoint so
// fabric tests can dial a real peer without pulling in the whole
// actionserver package.
func startFakeActionServer(t *testing.T, dispatch func(ctx context.Context, req rpc.Request) ([]byte, error)) *wire.Transport {
	t.Helper()
	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.ActionServerManifest()}}
	sm := rpc.NewSessionManager(manifest, rpc.DispatcherFunc(func(ctx context.Context, _ string, req rpc.Request) ([]byte, error) {
		return dispatch(ctx, req)
	}), zap.NewNop())
	transport, err := wire.Listen("127.0.0.1:0", wire.DefaultConfig(), sm.Handlers())
	require.NoError(t, err)
	sm.AttachTransport(transport)
	t.Cleanup(func() { transport.Close() })
	return transport
}

func testPeerDialer() PeerDialer {
	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.ActionServerManifest()}}
	return func(ctx context.Context, addr string) (*rpc.Session, error) {
		return rpc.Dial(ctx, addr, "fabric-test/1.0", manifest,
			rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain }), zap.NewNop())
	}
}

func TestForwardBulletCallsTransferOnTargetOwner(t *testing.T) {
	dirClient := newTestDirectoryClient(t)
	ctx := context.Background()

	var gotArgs []byte
	peerTransport := startFakeActionServer(t, func(_ context.Context, req rpc.Request) ([]byte, error) {
		if req.MethodID == rpcapi.MethodTransferBulletTrajectory {
			gotArgs = req.Args
			return nil, nil
		}
		return nil, rpc.ErrUnknownMethod
	})

	addr := peerTransport.LocalAddr()
	target, err := dirClient.RegisterActionServer(ctx, "as-target", addr.IP.String(), uint16(addr.Port), 0)
	require.NoError(t, err)

	client := NewClient(dirClient, testPeerDialer(), zap.NewNop())
	e := grid.Entity{Origin: grid.Vec2{X: 1, Y: 2}, Velocity: grid.Vec2{X: 3, Y: 4}, SpawnTimeMonotonic: 5, LifespanSec: 6}
	require.NoError(t, client.ForwardBullet(ctx, "bullet-1", e, target.AssignedSquare))

	require.NotNil(t, gotArgs)
	d := rpc.NewDecoder(gotArgs)
	id, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "bullet-1", id)
}

func TestForwardBulletFailsWhenTargetZoneHasNoOwner(t *testing.T) {
	dirClient := newTestDirectoryClient(t)
	client := NewClient(dirClient, testPeerDialer(), zap.NewNop())
	err := client.ForwardBullet(context.Background(), "bullet-1", grid.Entity{}, grid.Square{X: 40, Y: 40})
	assert.Error(t, err)
}

func TestSendScoutAlertSwallowsDialFailure(t *testing.T) {
	client := NewClient(nil, func(context.Context, string) (*rpc.Session, error) {
		return nil, assert.AnError
	}, zap.NewNop())
	// Must not panic or block; best-effort per §4.6.
	client.SendScoutAlert(context.Background(), grid.ActionServerInfo{ServerID: "as-1"}, "incoming")
}

func TestSendScoutAlertForSquareCallsReceiveOnOwner(t *testing.T) {
	dirClient := newTestDirectoryClient(t)
	ctx := context.Background()

	var gotMessage string
	called := make(chan struct{}, 1)
	peerTransport := startFakeActionServer(t, func(_ context.Context, req rpc.Request) ([]byte, error) {
		if req.MethodID == rpcapi.MethodReceiveScoutAlert {
			d := rpc.NewDecoder(req.Args)
			gotMessage, _ = d.String()
			called <- struct{}{}
			return nil, nil
		}
		return nil, rpc.ErrUnknownMethod
	})

	addr := peerTransport.LocalAddr()
	target, err := dirClient.RegisterActionServer(ctx, "as-neighbor", addr.IP.String(), uint16(addr.Port), 0)
	require.NoError(t, err)

	client := NewClient(dirClient, testPeerDialer(), zap.NewNop())
	client.SendScoutAlertForSquare(ctx, target.AssignedSquare, "player-1")

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("ReceiveScoutAlert was never called")
	}
	assert.Equal(t, "player-1", gotMessage)
}

func TestSendScoutAlertForSquareNoopsWhenNoOwner(t *testing.T) {
	dirClient := newTestDirectoryClient(t)
	client := NewClient(dirClient, testPeerDialer(), zap.NewNop())
	// Must not panic or block; best-effort per §4.6.
	client.SendScoutAlertForSquare(context.Background(), grid.Square{X: 40, Y: 40}, "incoming")
}

func TestQueryAdjacentReturnsEmptyListOnNeighborFailure(t *testing.T) {
	dirClient := newTestDirectoryClient(t)
	ctx := context.Background()

	_, err := dirClient.RegisterActionServer(ctx, "as-origin", "127.0.0.1", 9200, 9201)
	require.NoError(t, err)
	// A neighbor at an address nothing is listening on: dial fails, contributes nothing.
	_, err = dirClient.RegisterActionServer(ctx, "as-neighbor", "127.0.0.1", 1, 9203)
	require.NoError(t, err)

	client := NewClient(dirClient, testPeerDialer(), zap.NewNop())
	out := client.QueryAdjacent(ctx, grid.Square{X: 0, Y: 0})
	assert.Empty(t, out)
}

func TestQueryAdjacentAggregatesLiveNeighborWorldState(t *testing.T) {
	dirClient := newTestDirectoryClient(t)
	ctx := context.Background()

	origin, err := dirClient.RegisterActionServer(ctx, "as-origin", "127.0.0.1", 9200, 9201)
	require.NoError(t, err)

	worldState := rpc.NewEncoder().I32(1).
		String("e1").I32(int32(grid.KindPlayer)).I32(0).
		Vec2(grid.Vec2{X: 1, Y: 1}).Vec2(grid.Vec2{}).F64(100).I32(0).I32(int32(grid.StateActive)).
		String("").Vec2(grid.Vec2{}).F64(0).F64(0).
		Bytes()
	peerTransport := startFakeActionServer(t, func(_ context.Context, req rpc.Request) ([]byte, error) {
		if req.MethodID == rpcapi.MethodGetLocalWorldState {
			return worldState, nil
		}
		return nil, rpc.ErrUnknownMethod
	})
	addr := peerTransport.LocalAddr()

	neighborSquare := grid.Square{X: origin.AssignedSquare.X + 1, Y: origin.AssignedSquare.Y}
	require.True(t, origin.AssignedSquare.Adjacent(neighborSquare))
	_, err = dirClient.RegisterActionServer(ctx, "as-neighbor", addr.IP.String(), uint16(addr.Port), 0)
	require.NoError(t, err)

	client := NewClient(dirClient, testPeerDialer(), zap.NewNop())
	out := client.QueryAdjacent(ctx, origin.AssignedSquare)
	require.Len(t, out, 1)
	assert.Len(t, out[0].Entities, 1)
	assert.Equal(t, "e1", out[0].Entities[0].EntityID)
}
