// Command client is a minimal zonecore player client: it creates a session
// (Session.CreateSession) on the Silo and on each action server it connects
// to, follows the zone-transition state machine of §4.5, and
// either drives player input from a scripted bot loop (-bot) or simply idles
// connected (a real input/render loop is outside this module's scope).
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/actionserver"
	"github.com/zonecore/zonecore/internal/config"
	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/router"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/telemetry"
)

func main() {
	var siloAddr, playerName string
	var bot bool
	root := &cobra.Command{
		Use:   "client",
		Short: "zonecore player client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, siloAddr, playerName, bot)
		},
	}
	config.RegisterFlags(root.Flags())
	root.Flags().StringVar(&siloAddr, "silo-addr", "127.0.0.1:9100", "RPC address of the Silo")
	root.Flags().StringVar(&playerName, "name", "", "player display name (random if empty)")
	root.Flags().BoolVar(&bot, "bot", false, "drive player input from a scripted wander loop instead of a real input source")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, siloAddr, playerName string, bot bool) error {
	proc, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	tuning := config.DefaultTuning()

	log, err := telemetry.NewLogger(proc.LogLevel, proc.ServiceID, proc.InstanceID)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	playerID := uuid.NewString()
	if playerName == "" {
		playerName = "bot-" + playerID[:8]
	}

	siloManifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.SessionManifest(), rpcapi.DirectoryManifest()}}
	noopDispatcher := rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain })
	siloSession, err := rpc.Dial(ctx, siloAddr, "zonecore-client/1", siloManifest, noopDispatcher, log)
	if err != nil {
		return fmt.Errorf("client: dial silo: %w", err)
	}
	if _, err := siloSession.Call(ctx, rpcapi.IfaceSession, rpcapi.MethodCreateSession, rpc.NewEncoder().String(playerName).Bytes()); err != nil {
		return fmt.Errorf("client: create session: %w", err)
	}
	dirClient := directory.NewClient(siloSession, log)

	if _, err := dirClient.RegisterPlayer(ctx, playerID, playerName); err != nil {
		return fmt.Errorf("client: register player: %w", err)
	}
	log.Info("player registered", zap.String("playerId", playerID), zap.String("name", playerName))

	zc := &zoneConn{playerID: playerID, playerName: playerName, log: log}
	defer zc.close()

	connect := func(ctx context.Context, info grid.ActionServerInfo) error {
		return zc.connectTo(ctx, info, zc.lastPos())
	}

	startPos := grid.Vec2{X: 0, Y: 0}
	info, ok, err := dirClient.GetActionServerForPosition(ctx, startPos)
	if err != nil {
		return fmt.Errorf("client: resolve starting zone: %w", err)
	}
	if !ok {
		return fmt.Errorf("client: no action server owns the starting zone yet")
	}
	if err := zc.connectTo(ctx, info, startPos); err != nil {
		return fmt.Errorf("client: connect to starting zone: %w", err)
	}

	r := router.New(dirClient, connect, tuning, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Run(ctx, playerID, zc.lastPos)
	}()

	if bot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBot(ctx, zc, log)
		}()
	}

	log.Info("client running", zap.String("playerId", playerID), zap.Bool("bot", bot))
	<-ctx.Done()
	_ = zc.current().DisconnectPlayer(context.Background(), playerID)
	wg.Wait()
	log.Info("client shutting down")
	return nil
}

// zoneConn holds the client's live connection to whichever action server
// currently owns the player's zone, swapped out by the router's connect
// callback on each transfer.
type zoneConn struct {
	playerID, playerName string
	log                  *zap.Logger

	mu      sync.Mutex
	session *rpc.Session
	client  *actionserver.Client
	pos     grid.Vec2
}

func (z *zoneConn) connectTo(ctx context.Context, info grid.ActionServerInfo, pos grid.Vec2) error {
	asManifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.SessionManifest(), rpcapi.ActionServerManifest()}}
	noopDispatcher := rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain })
	addr := fmt.Sprintf("%s:%d", info.Address, info.RPCPort)
	session, err := rpc.Dial(ctx, addr, "zonecore-client/1", asManifest, noopDispatcher, z.log)
	if err != nil {
		return err
	}
	if _, err := session.Call(ctx, rpcapi.IfaceSession, rpcapi.MethodCreateSession, rpc.NewEncoder().String(z.playerName).Bytes()); err != nil {
		session.Close(err)
		return err
	}
	client := actionserver.NewClient(session, z.log)
	if err := client.ConnectPlayer(ctx, z.playerID, z.playerName, pos); err != nil {
		session.Close(err)
		return err
	}

	z.mu.Lock()
	prev := z.session
	z.session, z.client, z.pos = session, client, pos
	z.mu.Unlock()
	if prev != nil {
		prev.Close(nil)
	}
	z.log.Info("connected to zone owner", zap.String("server", info.ServerID), zap.String("addr", addr))
	return nil
}

func (z *zoneConn) current() *actionserver.Client {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.client
}

func (z *zoneConn) lastPos() grid.Vec2 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.pos
}

func (z *zoneConn) setPos(pos grid.Vec2) {
	z.mu.Lock()
	z.pos = pos
	z.mu.Unlock()
}

func (z *zoneConn) close() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.session != nil {
		z.session.Close(nil)
	}
}

// runBot scripts a slow circular wander so a fleet of -bot clients exercises
// zone crossings without any real input device.
func runBot(ctx context.Context, zc *zoneConn, log *zap.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	const radius = 400.0
	const angularSpeed = 0.1 // rad/s
	start := time.Now()
	jitter := rand.Float64() * math.Pi * 2

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := time.Since(start).Seconds()
			theta := jitter + t*angularSpeed
			pos := grid.Vec2{X: float32(radius * math.Cos(theta)), Y: float32(radius * math.Sin(theta))}
			move := grid.Vec2{X: float32(-math.Sin(theta)), Y: float32(math.Cos(theta))}

			client := zc.current()
			if client == nil {
				continue
			}
			if err := client.UpdatePlayerInput(ctx, zc.playerID, move, false); err != nil {
				log.Debug("bot input failed", zap.Error(err))
				continue
			}
			zc.setPos(pos)
		}
	}
}
