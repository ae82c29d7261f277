package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arenabench/arena/pkg/api"
	"github.com/arenabench/arena/pkg/client"
	"github.com/arenabench/arena/pkg/config"
	"github.com/arenabench/arena/pkg/engine"
	"github.com/arenabench/arena/pkg/gateway"
	"github.com/arenabench/arena/pkg/generator"
	"github.com/arenabench/arena/pkg/log"
	"github.com/arenabench/arena/pkg/ports"
	"github.com/arenabench/arena/pkg/runtime"
	"github.com/arenabench/arena/pkg/store"
	"github.com/arenabench/arena/pkg/workspace"
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
	Use:   "arenad",
	Short: "Arenad - run orchestrator for the model benchmarking arena",
	Long: `Arenad drives benchmark runs from prompt to live preview: it calls
the code-generation gateway, materializes a workspace, builds and starts
the result in isolated containers, probes it for health, and registers
it with the preview reverse proxy.`,
	Version: Version,
}

var configPath string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Arenad version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(logsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Arenad version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		logger := log.WithComponent("main")

		rt, err := runtime.NewDockerRuntime(cfg.DockerSocket)
		if err != nil {
			return fmt.Errorf("failed to connect to container engine: %w", err)
		}
		defer rt.Close()

		ctx := context.Background()
		if err := rt.EnsureNetwork(ctx, cfg.IsolationNetwork); err != nil {
			return fmt.Errorf("failed to ensure isolation network: %w", err)
		}
		if n, err := rt.ReapStale(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to reap stale containers")
		} else if n > 0 {
			logger.Info().Int("count", n).Msg("reaped stale containers from previous process")
		}

		alloc, err := ports.NewAllocator(cfg.PortRangeStart, cfg.PortRangeEnd)
		if err != nil {
			return fmt.Errorf("failed to create port allocator: %w", err)
		}

		template := cfg.TemplateDir
		if _, err := os.Stat(template); err != nil {
			logger.Warn().Str("dir", template).Msg("template directory missing, runs start from generated files only")
			template = ""
		}
		workspaces, err := workspace.NewManager(cfg.WorkspaceBase, template)
		if err != nil {
			return fmt.Errorf("failed to create workspace manager: %w", err)
		}

		st := store.NewStore()
		gw := gateway.NewRegistry()
		gen := generator.NewGatewayClient(cfg.GeneratorURL, cfg.GeneratorAPIKey)

		eng := engine.New(engine.Config{
			Host:             "localhost",
			IsolationNetwork: cfg.IsolationNetwork,
			BuildImage:       cfg.BuildImage,
			BuildMemory:      cfg.BuildMemoryBytes(),
			RunMemory:        cfg.RunMemoryBytes(),
			PreviewDomain:    cfg.PreviewDomain,
		}, engine.Deps{
			Store:      st,
			Ports:      alloc,
			Workspaces: workspaces,
			Runtime:    rt,
			Gateway:    gw,
			Generator:  gen,
			Notifier:   engine.NewNotifier(cfg.MainAppURL),
		})

		server := api.NewServer(st, eng, gw, alloc, rt)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(fmt.Sprintf(":%d", cfg.ListenPort))
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			return fmt.Errorf("API server error: %w", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("engine shutdown incomplete")
		}

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

var apiURL string

func init() {
	for _, cmd := range []*cobra.Command{statsCmd, killCmd, logsCmd} {
		cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8080", "orchestrator API base URL")
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show orchestrator resource usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(apiURL)
		stats, err := c.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Sessions:          %d\n", stats.Sessions)
		fmt.Printf("Runs:              %d\n", stats.Runs)
		fmt.Printf("Active containers: %d\n", stats.ActiveContainers)
		fmt.Printf("Registered runs:   %d\n", stats.RegisteredRuns)
		fmt.Printf("Ports allocated:   %d\n", stats.PortsAllocated)
		for status, n := range stats.RunsByStatus {
			fmt.Printf("  %-12s %d\n", status, n)
		}
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <run-id>",
	Short: "Terminate a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(apiURL)
		if err := c.Kill(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Run %s terminated\n", args[0])
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Fetch the concatenated logs of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(apiURL)
		logs, err := c.Logs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Print(logs)
		return nil
	},
}
