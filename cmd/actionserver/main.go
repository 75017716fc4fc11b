// Command actionserver runs one zone's authoritative simulation (§4.4): it
// registers with the Silo for a zone assignment, ticks the world at 60Hz,
// and serves the player-facing and server-facing ActionServer grain.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/actionserver"
	"github.com/zonecore/zonecore/internal/auth"
	"github.com/zonecore/zonecore/internal/config"
	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/fabric"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/telemetry"
	"github.com/zonecore/zonecore/internal/wire"
)

func main() {
	var siloAddr, advertiseAddr string
	root := &cobra.Command{
		Use:   "actionserver",
		Short: "zonecore zone simulation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, siloAddr, advertiseAddr)
		},
	}
	config.RegisterFlags(root.Flags())
	root.Flags().StringVar(&siloAddr, "silo-addr", "127.0.0.1:9100", "RPC address of the Silo")
	root.Flags().StringVar(&advertiseAddr, "advertise-addr", "127.0.0.1", "address this server advertises to the Silo and to peers")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, siloAddr, advertiseAddr string) error {
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

	serverID := proc.InstanceID
	if serverID == "" {
		serverID = "as-" + uuid.NewString()
	}

	siloManifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.SessionManifest(), rpcapi.DirectoryManifest()}}
	noopDispatcher := rpc.DispatcherFunc(func(context.Context, string, rpc.Request) ([]byte, error) { return nil, rpc.ErrUnknownGrain })
	siloSession, err := rpc.Dial(ctx, siloAddr, "zonecore-actionserver/1", siloManifest, noopDispatcher, log)
	if err != nil {
		return fmt.Errorf("actionserver: dial silo: %w", err)
	}
	dirClient := directory.NewClient(siloSession, log)

	info, err := dirClient.RegisterWithRetry(ctx, serverID, advertiseAddr, uint16(proc.RPCPort), uint16(proc.HTTPPort))
	if err != nil {
		return fmt.Errorf("actionserver: register with silo: %w", err)
	}
	log.Info("zone assigned", zap.String("serverId", serverID), zap.Int32("x", info.AssignedSquare.X), zap.Int32("y", info.AssignedSquare.Y))

	asManifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.ActionServerManifest()}}
	peerDial := func(ctx context.Context, addr string) (*rpc.Session, error) {
		return rpc.Dial(ctx, addr, "zonecore-actionserver/1", asManifest, noopDispatcher, log)
	}
	fabricClient := fabric.NewClient(dirClient, peerDial, log)

	metrics := telemetry.NewMetrics()
	as := actionserver.New(serverID, info.AssignedSquare, tuning, dirClient, fabricClient, metrics, log)

	policy, err := auth.NewPolicyTable(proc.PolicyFile, log)
	if err != nil {
		return fmt.Errorf("actionserver: load policy: %w", err)
	}
	roles := auth.NewRoles()
	sessions := auth.NewStore()
	sessionGrain := auth.NewSessionGrain(sessions, roles, log)
	mux := rpc.NewMultiplexer().
		Register(rpcapi.IfaceSession, sessionGrain).
		Register(rpcapi.IfaceActionServer, as)
	gateway := auth.NewGateway(mux, policy, roles, log)

	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{rpcapi.SessionManifest(), rpcapi.ActionServerManifest()}}
	sm := rpc.NewSessionManager(manifest, gateway, log)
	sm.OnConnectHook(func(peerID string, s *rpc.Session) { as.RegisterSession(peerID, s) })
	sm.OnDisconnectHook(func(peerID string) { as.RemoveSession(peerID); roles.Clear(peerID) })

	transport, err := wire.Listen(fmt.Sprintf(":%d", proc.RPCPort), wire.DefaultConfig(), sm.Handlers())
	if err != nil {
		return fmt.Errorf("actionserver: listen: %w", err)
	}
	sm.AttachTransport(transport)
	defer transport.Close()

	go as.Run(ctx)
	go as.RunStreams(ctx)
	go as.RunHeartbeat(ctx, 5*time.Second)

	checks := map[string]telemetry.HealthCheck{
		"silo_session": func() error {
			if siloSession.State() == rpc.StateClosed {
				return fmt.Errorf("silo session closed")
			}
			return nil
		},
	}
	httpRouter := telemetry.NewRouter(log, metrics, checks, nil)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", proc.HTTPPort), Handler: httpRouter}
	go httpServer.ListenAndServe()
	defer httpServer.Close()

	log.Info("action server started", zap.String("serverId", serverID), zap.Int("rpcPort", proc.RPCPort))
	<-ctx.Done()
	log.Info("action server shutting down")
	return nil
}
