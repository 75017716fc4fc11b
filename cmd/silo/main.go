// Command silo runs the zone directory: the single logical writer that
// assigns zones to action servers and tracks player location (§4.3).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/auth"
	"github.com/zonecore/zonecore/internal/config"
	"github.com/zonecore/zonecore/internal/directory"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
	"github.com/zonecore/zonecore/internal/telemetry"
	"github.com/zonecore/zonecore/internal/wire"
)

func main() {
	root := &cobra.Command{
		Use:   "silo",
		Short: "zonecore zone directory",
		RunE:  run,
	}
	config.RegisterFlags(root.Flags())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
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

	db, err := directory.OpenStore(directory.StoreConfig{DSN: proc.DirDSN, Logger: log})
	if err != nil {
		return fmt.Errorf("silo: open store: %w", err)
	}
	dir := directory.New(db, log)

	policy, err := auth.NewPolicyTable(proc.PolicyFile, log)
	if err != nil {
		return fmt.Errorf("silo: load policy: %w", err)
	}
	roles := auth.NewRoles()
	sessions := auth.NewStore()
	sessionGrain := auth.NewSessionGrain(sessions, roles, log)
	dirGrain := directory.NewGrain(dir, nil, log)

	mux := rpc.NewMultiplexer().
		Register(rpcapi.IfaceSession, sessionGrain).
		Register(rpcapi.IfaceDirectory, dirGrain)
	gateway := auth.NewGateway(mux, policy, roles, log)

	manifest := rpc.ManifestSnapshot{Interfaces: []rpc.InterfaceDescriptor{
		rpcapi.SessionManifest(), rpcapi.DirectoryManifest(),
	}}
	sm := rpc.NewSessionManager(manifest, gateway, log)
	sm.OnDisconnectHook(func(peerID string) { roles.Clear(peerID) })

	transport, err := wire.Listen(fmt.Sprintf(":%d", proc.RPCPort), wire.DefaultConfig(), sm.Handlers())
	if err != nil {
		return fmt.Errorf("silo: listen: %w", err)
	}
	sm.AttachTransport(transport)
	defer transport.Close()

	scheduler, err := directory.NewScheduler(dir, log)
	if err != nil {
		return fmt.Errorf("silo: create scheduler: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("silo: start scheduler: %w", err)
	}
	defer scheduler.Stop()

	metrics := telemetry.NewMetrics()
	checks := map[string]telemetry.HealthCheck{
		"directory_db": func() error { return directory.Ping(ctx, db) },
	}
	httpRouter := telemetry.NewRouter(log, metrics, checks, nil)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", proc.HTTPPort), Handler: httpRouter}
	go httpServer.ListenAndServe()
	defer httpServer.Close()

	log.Info("silo started", zap.Int("rpcPort", proc.RPCPort), zap.Int("httpPort", proc.HTTPPort))
	<-ctx.Done()
	log.Info("silo shutting down")
	return nil
}
