package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/connector/registry"
	"github.com/ideagen/harvester/pkg/logger"
	"github.com/ideagen/harvester/pkg/metrics"
	"github.com/ideagen/harvester/pkg/observability"
	"github.com/ideagen/harvester/pkg/pipeline"
	"github.com/ideagen/harvester/pkg/sink/jsonl"
	"github.com/ideagen/harvester/pkg/sink/memory"
	"github.com/ideagen/harvester/pkg/sink/sqlite"

	// Import all platform connectors to register them
	_ "github.com/ideagen/harvester/pkg/connector/platforms/github"
	_ "github.com/ideagen/harvester/pkg/connector/platforms/producthunt"
	_ "github.com/ideagen/harvester/pkg/connector/platforms/reddit"
	_ "github.com/ideagen/harvester/pkg/connector/platforms/trends"
	_ "github.com/ideagen/harvester/pkg/connector/platforms/twitter"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string
	var logLevel string
	var enableTracing bool

	root := &cobra.Command{
		Use:   "harvester",
		Short: "Harvester - Multi-source idea signal extraction",
		Long: `Harvester incrementally extracts posts, repositories, tweets, and search
trends from configured platforms, scores them for product idea signals,
and delivers deduplicated records to a local sink.`,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "harvester.yaml", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override configured log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&enableTracing, "trace", false, "Emit extraction spans to stdout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Harvester v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available platform connectors",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available connectors:")
			for _, info := range registry.ListAdapters() {
				fmt.Printf("  %-12s %s\n", info.Name, info.Description)
			}
		},
	})

	var dryRun bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle across all connectors and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(configFile, logLevel, enableTracing, dryRun, func(ctx context.Context, m *pipeline.Manager) error {
				report, err := m.RunFullSync(ctx)
				if report != nil {
					printCycle(report)
				}
				return err
			})
		},
	}
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Extract into an in-memory sink and discard results")
	root.AddCommand(syncCmd)

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run continuous sync cycles until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(configFile, logLevel, enableTracing, false, func(ctx context.Context, m *pipeline.Manager) error {
				return m.RunContinuous(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Probe every connector and print a health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(configFile, logLevel, enableTracing, false, func(ctx context.Context, m *pipeline.Manager) error {
				report := m.Health(ctx)
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				if report.Status == pipeline.StatusUnhealthy {
					return fmt.Errorf("all connectors unhealthy")
				}
				return nil
			})
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withManager wires config, logging, sink, metrics, and tracing around
// fn, and tears everything down afterwards.
func withManager(configFile, logLevel string, enableTracing, dryRun bool, fn func(context.Context, *pipeline.Manager) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if enableTracing {
		shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName:    "harvester",
			ServiceVersion: version,
			SamplingRate:   1.0,
			Enabled:        true,
		})
		if err != nil {
			return fmt.Errorf("tracing error: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Address); err != nil {
				log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
		log.Info("metrics endpoint listening", zap.String("address", cfg.Metrics.Address))
	}

	sink, err := buildSink(cfg, dryRun, log)
	if err != nil {
		return fmt.Errorf("sink error: %w", err)
	}

	manager := pipeline.NewManager(cfg, sink, log)
	runErr := fn(ctx, manager)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Manager.Close also closes the sink.
	if err := manager.Close(closeCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return runErr
}

func buildSink(cfg *config.Config, dryRun bool, log *zap.Logger) (core.Sink, error) {
	if dryRun {
		return memory.New(), nil
	}
	switch cfg.Sink.Type {
	case "jsonl":
		return jsonl.New(cfg.Sink.Path, cfg.Sink.Compress, log)
	case "sqlite":
		return sqlite.New(cfg.Sink.Path, log)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}

func printCycle(report *pipeline.CycleReport) {
	fmt.Printf("Cycle finished in %s, %d records\n",
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), report.Total)
	for name, session := range report.Sessions {
		fmt.Printf("  %-12s %5d records, %d errors\n", name, session.Total, session.Errors)
	}
	for name, err := range report.Failures {
		fmt.Printf("  %-12s FAILED: %v\n", name, err)
	}
}
