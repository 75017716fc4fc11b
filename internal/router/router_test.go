package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/config"
	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/wire"
)

// newTestDirectoryClient wires a real SQLite-backed Directory behind a real
// loopback RPC session, the same stack the action server and client
// binaries use in production, so the directory client's circuit-breaker
// plumbing gets exercised rather than mocked out.
func newTestDirectoryClient(t *testing.T) *directory.Client {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "router-test.db")
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
	session, err := rpc.Dial(ctx, transport.LocalAddr().String(), "router-test/1.0", manifest,
		rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain }), zap.NewNop())
	require.NoError(t, err)

	return directory.NewClient(session, zap.NewNop())
}

func TestTickIsNoopWithinTheStartingZone(t *testing.T) {
	connectCalls := 0
	r := New(nil, func(context.Context, grid.ActionServerInfo) error {
		connectCalls++
		return nil
	}, config.DefaultTuning(), zap.NewNop())

	r.tick(context.Background(), "player-1", grid.Vec2{X: 10, Y: 10}) // inside zone {0,0}, matching the zero-value ConnectedZone
	assert.Equal(t, 0, connectCalls)
	assert.False(t, r.State().InTransition)
}

func TestTickConnectsOnceTargetZoneIsOwned(t *testing.T) {
	dirClient := newTestDirectoryClient(t)
	ctx := context.Background()

	_, err := dirClient.RegisterActionServer(ctx, "as-origin", "127.0.0.1", 9200, 9201)
	require.NoError(t, err)
	target, err := dirClient.RegisterActionServer(ctx, "as-target", "127.0.0.1", 9202, 9203)
	require.NoError(t, err)
	_, err = dirClient.RegisterPlayer(ctx, "player-1", "Alice")
	require.NoError(t, err)

	var connected grid.ActionServerInfo
	r := New(dirClient, func(_ context.Context, info grid.ActionServerInfo) error {
		connected = info
		return nil
	}, config.DefaultTuning(), zap.NewNop())

	targetMin, _ := target.AssignedSquare.Bounds(500)
	pos := grid.Vec2{X: targetMin.X + 1, Y: targetMin.Y + 1}

	require.Eventually(t, func() bool {
		r.tick(ctx, "player-1", pos)
		return connected.ServerID == target.ServerID
	}, 2*time.Second, 20*time.Millisecond)

	assert.False(t, r.State().InTransition)
	assert.Equal(t, target.AssignedSquare, r.State().ConnectedZone)
}

func TestTickAbandonsTransitionAfterCriticalThreshold(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.TCritical = 10 * time.Millisecond

	dirClient := newTestDirectoryClient(t) // no zones registered, so every poll fails until the critical abort fires
	r := New(dirClient, func(context.Context, grid.ActionServerInfo) error {
		return nil
	}, tuning, zap.NewNop())

	farAway := grid.Vec2{X: 50000, Y: 50000}
	r.tick(context.Background(), "player-1", farAway)
	assert.True(t, r.State().InTransition, "first tick into a new zone enters a transition")

	time.Sleep(20 * time.Millisecond)
	r.tick(context.Background(), "player-1", farAway)
	assert.False(t, r.State().InTransition, "exceeding T_critical aborts the transition")
	assert.Equal(t, grid.SquareForPosition(farAway, tuning.ZoneSide), r.State().ConnectedZone)
}
