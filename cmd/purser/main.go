package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/purser-io/purser/pkg/adapter"
	"github.com/purser-io/purser/pkg/api"
	"github.com/purser-io/purser/pkg/events"
	"github.com/purser-io/purser/pkg/ledger"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/manager"
	"github.com/purser-io/purser/pkg/reconciler"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/tasks"
	"github.com/purser-io/purser/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "purser",
	Short: "Purser - resource lifecycle orchestrator",
	Long: `Purser orchestrates multi-step lifecycle operations over typed
infrastructure resources: containers, networks, volumes and load
balancers. Requests fan out into chains of cooperating tasks with
quota-tracked reservations, volume-derived affinity constraints and a
health-driven redeploy control loop.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Purser version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(placementCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a purser node",
	Long: `Start a purser node: bootstraps the replicated document store,
registers the task types and adapters, and serves the HTTP API.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "purser-1", "Unique node ID")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for raft communication")
	serveCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address for the HTTP API")
	serveCmd.Flags().String("data-dir", "./purser-data", "Data directory for documents and raft state")
	serveCmd.Flags().String("containerd-socket", "", "Containerd socket path (empty disables the container adapter)")
	serveCmd.Flags().String("volumes-dir", adapter.DefaultVolumesPath, "Backing directory for local volumes")
	serveCmd.Flags().Duration("reconcile-interval", reconciler.DefaultInterval, "Redeploy control loop interval")
	serveCmd.Flags().Duration("sweep-interval", taskengine.DefaultSweepInterval, "Task expiration sweep interval")
	serveCmd.Flags().Bool("log-json", false, "Log in JSON instead of console format")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	volumesDir, _ := cmd.Flags().GetString("volumes-dir")
	reconcileInterval, _ := cmd.Flags().GetDuration("reconcile-interval")
	sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	logLevel, _ := cmd.Flags().GetString("log-level")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("main")

	mgr, err := manager.New(&manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	if err := mgr.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	// Mutations replicate through the raft log; reads stay local.
	store := mgr.ReplicatedStore()

	broker := events.NewBroker()
	broker.Start()

	engine := taskengine.New(store, broker)
	ldg := ledger.NewLedger(store)

	adapters := adapter.NewRegistry()
	volumeAdapter, err := adapter.NewVolumeAdapter(store, volumesDir)
	if err != nil {
		return fmt.Errorf("create volume adapter: %w", err)
	}
	adapters.Register(volumeAdapter)
	adapters.Register(adapter.NewNetworkAdapter(store))
	adapters.Register(adapter.NewLoadBalancerAdapter(store))
	if containerdSocket != "" {
		containerAdapter, err := adapter.NewContainerdAdapter(containerdSocket, store)
		if err != nil {
			return fmt.Errorf("create containerd adapter: %w", err)
		}
		adapters.Register(containerAdapter)
	} else {
		logger.Warn().Msg("No containerd socket configured, container requests use the mock adapter")
		adapters.Register(adapter.NewMockAdapter(store, types.ResourceTypeContainer))
	}

	services := &tasks.Services{
		Engine:   engine,
		Store:    store,
		Ledger:   ldg,
		Adapters: adapters,
	}
	if err := services.RegisterAll(); err != nil {
		return fmt.Errorf("register task types: %w", err)
	}

	engine.StartSweeper(sweepInterval)
	recon := reconciler.New(store, engine, broker, reconcileInterval)
	recon.Start()

	server := api.NewServer(engine, store, ldg)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(apiAddr); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Str("api", apiAddr).Msg("Purser node running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("API server failed")
	}

	recon.Stop()
	engine.StopSweeper()
	broker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown failed")
	}
	engine.Wait()
	return mgr.Shutdown()
}
