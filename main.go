package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"muni2board/pkg/aggregator"
	"muni2board/pkg/board"
	"muni2board/pkg/config"
	"muni2board/pkg/estimator"
	"muni2board/pkg/logging"
	"muni2board/pkg/parser"
	"muni2board/pkg/profiling"
	"muni2board/pkg/telemetry"
	"muni2board/pkg/transit"
)

func main() {
	var (
		configPath = flag.String("config", getEnv("MUNI2BOARD_CONFIG", "config.yml"), "Path to YAML configuration")
		dryRun     = flag.Bool("dry-run", false, "Print each refreshed snapshot to stdout instead of serving HTTP")
		apiKey     = flag.String("api-key", "", "511.org API token (overrides config and TRANSIT_API_KEY)")
		interval   = flag.String("interval", "", "Polling interval override, e.g. 45s")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Muni Arrival Board\n\n")
		fmt.Fprintf(os.Stderr, "Polls the 511.org StopMonitoring feed for a configured set of stops,\n")
		fmt.Fprintf(os.Stderr, "keeps a live arrival board per stop, and derives a door-to-door\n")
		fmt.Fprintf(os.Stderr, "commute estimate served over HTTP for display frontends.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  MUNI2BOARD_CONFIG - Path to YAML configuration (default: config.yml)\n")
		fmt.Fprintf(os.Stderr, "  TRANSIT_API_KEY   - 511.org API token when not set in the config file\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL         - debug, info, warn, error (default: info)\n")
		fmt.Fprintf(os.Stderr, "  LOG_FORMAT        - text or json (default: text)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Dry run mode (prints snapshots, no HTTP server)\n")
		fmt.Fprintf(os.Stderr, "  %s --dry-run --config=config.yml --api-key=YOUR_TOKEN\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Serve the board API\n")
		fmt.Fprintf(os.Stderr, "  TRANSIT_API_KEY=YOUR_TOKEN %s --config=/etc/muni2board/config.yml\n\n", os.Args[0])
	}

	flag.Parse()

	logging.InitLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *apiKey != "" {
		cfg.Feed.APIKey = *apiKey
	}
	if *interval != "" {
		d, err := time.ParseDuration(*interval)
		if err != nil {
			slog.Error("invalid interval", "interval", *interval, "error", err)
			os.Exit(1)
		}
		cfg.Feed.PollIntervalSeconds = int(d.Seconds())
	}
	if cfg.Feed.APIKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key is required. Use --api-key, the config file, or TRANSIT_API_KEY.\n\n")
		flag.Usage()
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.InitTracing()
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	shutdownMetrics, err := telemetry.InitMetrics()
	if err != nil {
		slog.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer shutdownMetrics()

	shutdownProfiling, err := profiling.InitProfiling()
	if err != nil {
		slog.Error("failed to initialize profiling", "error", err)
		os.Exit(1)
	}
	defer shutdownProfiling()

	client := transit.NewClient(cfg.Feed.APIKey, cfg.Feed.BaseURL)
	agg := aggregator.New(client, parser.NewFeedParser(), estimator.New(cfg.Commute), cfg)

	if *dryRun {
		slog.Info("starting in DRY RUN mode, snapshots print to stdout")
		agg.Subscribe(printSnapshot)
	}

	slog.Info("starting arrival board",
		"stops", len(cfg.Stops),
		"agency", cfg.Feed.Agency,
		"interval", cfg.Feed.PollInterval(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		errChan <- agg.Run(ctx)
	}()
	if !*dryRun {
		srv := board.NewServer(agg, cfg.Board.Port)
		go func() {
			errChan <- srv.Serve(ctx)
		}()
	}

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down gracefully", "signal", sig)
		cancel()
		select {
		case <-time.After(5 * time.Second):
			slog.Warn("shutdown timeout, forcing exit")
		case <-errChan:
		}
	case err := <-errChan:
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("arrival board failed", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("arrival board shutdown complete")
}

func printSnapshot(snap aggregator.Snapshot) {
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("failed to marshal snapshot", "error", err)
		return
	}
	fmt.Println(string(out))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
