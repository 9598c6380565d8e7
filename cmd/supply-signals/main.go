package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Bwenz68/supply-signals/internal/config"
	"github.com/Bwenz68/supply-signals/internal/pipeline"
	"github.com/Bwenz68/supply-signals/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Exit codes: 0 success, 2 configuration error, 1 anything else.
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Load()
	if err := overlayFlags(cfg, args); err != nil {
		return exitConfig
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		if errors.Is(err, config.ErrConfig) {
			return exitConfig
		}
		return exitError
	}

	logger.Info("starting supply-signals",
		"raw_queue", cfg.Queues.RawDir,
		"fact_queue", cfg.Queues.FactDir,
		"signal_queue", cfg.Queues.SignalDir,
		"threshold", cfg.Detector.Threshold,
		"dedupe_disabled", cfg.Dedupe.Disable,
		"watchlist", cfg.Watchlist.Path,
		"sinks_live", cfg.Alerts.Live,
		"interval", cfg.Run.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "supply-signals", cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Error("pipeline init failed", "error", err)
		return exitError
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("pipeline close error", "error", err)
		}
	}()

	if cfg.Run.Interval <= 0 {
		if _, err := p.RunBatch(ctx); err != nil {
			logger.Error("batch run failed", "error", err)
			return exitError
		}
		return exitOK
	}

	if err := runForever(ctx, cfg, p, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", "error", err)
		return exitError
	}
	logger.Info("shut down gracefully")
	return exitOK
}

// overlayFlags lets command-line flags override the environment, keeping the
// env defaults for anything not set. Flags cover the knobs an operator flips
// per invocation; everything else stays env-only.
func overlayFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("supply-signals", flag.ContinueOnError)
	rawDir := fs.String("raw-dir", cfg.Queues.RawDir, "raw event queue directory")
	factDir := fs.String("fact-dir", cfg.Queues.FactDir, "normalized fact queue directory")
	sigDir := fs.String("signal-dir", cfg.Queues.SignalDir, "signal queue directory")
	threshold := fs.Int("threshold", cfg.Detector.Threshold, "minimum evidence score that emits a signal")
	watchlistPath := fs.String("watchlist", cfg.Watchlist.Path, "watchlist file path (empty = default resolution)")
	noWatchlist := fs.Bool("no-watchlist", cfg.Watchlist.ForceDisable, "disable the watchlist gate entirely")
	noDedupe := fs.Bool("no-dedupe", cfg.Dedupe.Disable, "disable cross-run deduplication")
	noHarden := fs.Bool("no-harden", cfg.Harden.Disable, "disable timestamp hardening")
	csvPath := fs.String("alerts-csv", cfg.Alerts.CSVPath, "CSV alert sink path (empty = disabled)")
	live := fs.Bool("live", cfg.Alerts.Live, "arm network sinks (default dry-run)")
	interval := fs.Duration("interval", cfg.Run.Interval, "re-run interval (0 = single pass)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Queues.RawDir = *rawDir
	cfg.Queues.FactDir = *factDir
	cfg.Queues.SignalDir = *sigDir
	cfg.Detector.Threshold = *threshold
	cfg.Watchlist.Path = *watchlistPath
	cfg.Watchlist.ForceDisable = *noWatchlist
	cfg.Dedupe.Disable = *noDedupe
	cfg.Harden.Disable = *noHarden
	cfg.Alerts.CSVPath = *csvPath
	cfg.Alerts.Live = *live
	cfg.Run.Interval = *interval
	return nil
}

// runForever re-runs the batch on the configured interval and serves the
// health and metrics endpoints. A failed batch is logged and retried on the
// next tick rather than taking the process down.
func runForever(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, logger)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Run.Interval)
		defer ticker.Stop()
		for {
			if _, err := p.RunBatch(gCtx); err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				logger.Error("batch run failed", "error", err)
			}
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

func runHealthServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
