// Package pipeline wires the batch stages together: raw event queue files
// through the normalizer onto the fact queue, the fact queue through the
// detector onto the signal queue, and freshly emitted signals through the
// alert dispatcher, optionally mirrored onto a Redis stream.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Bwenz68/supply-signals/internal/alert"
	"github.com/Bwenz68/supply-signals/internal/config"
	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/Bwenz68/supply-signals/internal/metrics"
	"github.com/Bwenz68/supply-signals/internal/pipeline/detector"
	"github.com/Bwenz68/supply-signals/internal/pipeline/fusion"
	"github.com/Bwenz68/supply-signals/internal/pipeline/hardener"
	"github.com/Bwenz68/supply-signals/internal/pipeline/normalizer"
	"github.com/Bwenz68/supply-signals/internal/pipeline/watchlist"
	"github.com/Bwenz68/supply-signals/internal/store"
	"github.com/Bwenz68/supply-signals/internal/store/jsonl"
	"github.com/Bwenz68/supply-signals/internal/store/memory"
	redisstream "github.com/Bwenz68/supply-signals/internal/store/redis"
	"github.com/Bwenz68/supply-signals/internal/tracing"
)

const (
	rawSuffix    = ".jsonl"
	factSuffix   = ".norm.jsonl"
	signalSuffix = ".signals.jsonl"
	fusedSuffix  = ".fused.jsonl"
)

// Pipeline owns the long-lived stage state: the dedup store stays open across
// batches in interval mode, and the alert dispatcher's cooldown cache spans
// runs.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	dedup  store.DedupStore
	norm   *normalizer.Normalizer
	det    *detector.Detector
	fuse   *fusion.Fuser // nil = fusion disabled
	disp   *alert.Dispatcher
	mirror redisstream.MessageTransport // nil = mirroring disabled

	nowFn func() time.Time
}

type Option func(*Pipeline)

// WithMirror injects the signal stream transport, replacing whatever the
// config would have connected. Test hook.
func WithMirror(t redisstream.MessageTransport) Option {
	return func(p *Pipeline) { p.mirror = t }
}

// WithClock overrides the run clock used to name signal files. Test hook.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.nowFn = now }
}

// New builds every stage from a validated config. The dedup store file is
// opened here and held until Close.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		logger: logger.With("component", "pipeline"),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	var dedup store.DedupStore
	if cfg.Dedupe.Disable {
		dedup = memory.NewDedupStore()
	} else {
		s, err := jsonl.OpenDedupStore(cfg.Dedupe.StatePath, cfg.Dedupe.TTL, logger)
		if err != nil {
			return nil, fmt.Errorf("open dedup store: %w", err)
		}
		dedup = s
	}
	p.dedup = dedup

	h, err := hardener.New(hardener.Config{
		Disabled:     cfg.Harden.Disable,
		SECZone:      cfg.Harden.SECZone,
		PRZone:       cfg.Harden.PRZone,
		FallbackZone: cfg.Harden.FallbackZone,
	}, logger)
	if err != nil {
		dedup.Close()
		return nil, fmt.Errorf("init hardener: %w", err)
	}

	refmap, err := normalizer.LoadIssuerRefMap(cfg.Ref.UniversePath)
	if err != nil {
		dedup.Close()
		return nil, err
	}
	p.norm = normalizer.New(dedup, h, logger,
		normalizer.WithDedupDisabled(cfg.Dedupe.Disable),
		normalizer.WithIssuerRefMap(refmap),
	)

	var watch *watchlist.Watchlist
	if cfg.WatchlistEnabled() {
		watch, err = watchlist.Load(cfg.Watchlist.Path, logger)
		if err != nil {
			dedup.Close()
			return nil, fmt.Errorf("load watchlist: %w", err)
		}
	}
	p.det, err = detector.New(cfg.Detector.Threshold, logger, detector.WithWatchlist(watch))
	if err != nil {
		dedup.Close()
		return nil, fmt.Errorf("init detector: %w", err)
	}

	if !cfg.Fusion.Disable {
		p.fuse, err = fusion.New(cfg.Fusion.Window, logger)
		if err != nil {
			dedup.Close()
			return nil, fmt.Errorf("init fusion: %w", err)
		}
	}

	p.disp = alert.NewDispatcher(logger, p.buildSinks(),
		alert.WithCooldown(cfg.Alerts.Cooldown),
		alert.WithRetry(cfg.Alerts.RetryAttempts, 500*time.Millisecond, 8*time.Second),
	)

	if p.mirror == nil && cfg.Stream.Enabled {
		stream, err := redisstream.NewStream(cfg.Stream.RedisURL)
		if err != nil {
			dedup.Close()
			return nil, fmt.Errorf("connect signal stream: %w", err)
		}
		p.mirror = stream
	}
	return p, nil
}

// buildSinks assembles the delivery targets. The console sink is always on;
// the rest engage when configured, each defaulting to dry-run until the
// config arms live delivery.
func (p *Pipeline) buildSinks() []alert.Sink {
	cfg := p.cfg.Alerts
	sinks := []alert.Sink{&alert.ConsoleSink{W: os.Stdout}}
	if cfg.CSVPath != "" {
		sinks = append(sinks, &alert.CSVSink{Path: cfg.CSVPath})
	}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewSlackSink(cfg.SlackWebhookURL, p.logger,
			alert.WithSlackLive(cfg.Live),
			alert.WithSlackMention(cfg.SlackMention),
			alert.WithSlackRateLimit(cfg.SlackRatePerSec),
		))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.WebhookURL, cfg.Live, p.logger))
	}
	return sinks
}

// RunStats aggregates one batch pass end to end.
type RunStats struct {
	Normalize  normalizer.Stats
	Detect     detector.Stats
	Fuse       fusion.Stats
	AlertsSent int
	AlertsErr  int
	SignalFile string // empty when the run emitted no signals
	FusedFile  string // empty when the run fused no convictions
}

// RunBatch executes one full pass over the queues. Raw files already
// normalized on earlier runs are reprocessed but suppressed by the dedup
// store; queue file rotation is the operator's concern, not the pipeline's.
func (p *Pipeline) RunBatch(ctx context.Context) (RunStats, error) {
	ctx, span := tracing.Tracer("pipeline").Start(ctx, "pipeline.run")
	defer span.End()

	start := p.nowFn()
	metrics.RunsTotal.Inc()
	defer func() {
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	stats, err := p.runStages(ctx, start)
	if err != nil {
		metrics.RunErrors.Inc()
		return stats, err
	}

	p.logger.Info("batch run complete",
		"records_in", stats.Normalize.RecordsIn,
		"facts_out", stats.Normalize.FactsOut,
		"duplicates", stats.Normalize.Duplicates,
		"signals_out", stats.Detect.SignalsOut,
		"fusions_out", stats.Fuse.FusionsOut,
		"alerts_sent", stats.AlertsSent,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return stats, nil
}

func (p *Pipeline) runStages(ctx context.Context, start time.Time) (RunStats, error) {
	var stats RunStats

	if err := p.normalize(ctx, &stats); err != nil {
		return stats, err
	}
	if fl, ok := p.dedup.(interface{ Flush() error }); ok {
		if err := fl.Flush(); err != nil {
			return stats, err
		}
	}

	sigPath, err := p.detect(ctx, start, &stats)
	if err != nil {
		return stats, err
	}
	if sigPath != "" {
		stats.SignalFile = sigPath
		if err := p.dispatch(ctx, sigPath, &stats); err != nil {
			return stats, err
		}
	}

	// Fusion reads the whole signal queue, not just this run's file: a quiet
	// run can still change an issuer's conviction window.
	if err := p.fuseSignals(ctx, start, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// fuseSignals folds every signal file in the queue into per-issuer conviction
// windows, one fused output file per run. No signals or disabled fusion leave
// the fused queue untouched.
func (p *Pipeline) fuseSignals(ctx context.Context, start time.Time, stats *RunStats) error {
	if p.fuse == nil {
		return nil
	}
	sigFiles, err := jsonl.ListQueueFiles(p.cfg.Queues.SignalDir, signalSuffix)
	if err != nil {
		return err
	}
	if len(sigFiles) == 0 {
		return nil
	}

	fusedPath := filepath.Join(p.cfg.Fusion.OutDir,
		start.UTC().Format("20060102T150405Z")+fusedSuffix)
	in := jsonl.NewMultiScanner(sigFiles)
	out, err := jsonl.NewWriter(fusedPath)
	if err != nil {
		in.Close()
		return err
	}
	fuseStats, runErr := p.fuse.Run(ctx, in, out)
	in.Close()
	if runErr == nil {
		runErr = out.Sync()
	}
	if cerr := out.Close(); runErr == nil {
		runErr = cerr
	}
	if runErr != nil {
		return fmt.Errorf("fuse: %w", runErr)
	}
	stats.Fuse = fuseStats

	if fuseStats.FusionsOut == 0 {
		if st, err := os.Stat(fusedPath); err == nil && st.Size() == 0 {
			os.Remove(fusedPath)
		}
		return nil
	}
	stats.FusedFile = fusedPath
	return nil
}

// normalize runs the normalizer over every raw queue file, each onto its own
// fact queue file (events.jsonl -> events.norm.jsonl).
func (p *Pipeline) normalize(ctx context.Context, stats *RunStats) error {
	rawFiles, err := jsonl.ListQueueFiles(p.cfg.Queues.RawDir, rawSuffix)
	if err != nil {
		return err
	}
	for _, rawPath := range rawFiles {
		base := strings.TrimSuffix(filepath.Base(rawPath), rawSuffix)
		factPath := filepath.Join(p.cfg.Queues.FactDir, base+factSuffix)

		in, err := jsonl.NewScanner(rawPath)
		if err != nil {
			return err
		}
		out, err := jsonl.NewWriter(factPath)
		if err != nil {
			in.Close()
			return err
		}
		fileStats, runErr := p.norm.Run(ctx, in, out)
		in.Close()
		if runErr == nil {
			runErr = out.Sync()
		}
		if cerr := out.Close(); runErr == nil {
			runErr = cerr
		}
		if runErr != nil {
			return fmt.Errorf("normalize %s: %w", rawPath, runErr)
		}

		stats.Normalize.RecordsIn += fileStats.RecordsIn
		stats.Normalize.FactsOut += fileStats.FactsOut
		stats.Normalize.Duplicates += fileStats.Duplicates
		stats.Normalize.BadRecords += fileStats.BadRecords
	}
	return nil
}

// detect runs the detector once over the whole fact queue, so issuer scores
// accumulate across fact files within the batch. Signals land in one file
// named from the run's start time; a signal-free run leaves no file behind.
func (p *Pipeline) detect(ctx context.Context, start time.Time, stats *RunStats) (string, error) {
	factFiles, err := jsonl.ListQueueFiles(p.cfg.Queues.FactDir, factSuffix)
	if err != nil {
		return "", err
	}
	if len(factFiles) == 0 {
		return "", nil
	}

	sigPath := filepath.Join(p.cfg.Queues.SignalDir,
		start.UTC().Format("20060102T150405Z")+signalSuffix)
	in := jsonl.NewMultiScanner(factFiles)
	out, err := jsonl.NewWriter(sigPath)
	if err != nil {
		in.Close()
		return "", err
	}
	detStats, runErr := p.det.Run(ctx, in, out)
	in.Close()
	if runErr == nil {
		runErr = out.Sync()
	}
	if cerr := out.Close(); runErr == nil {
		runErr = cerr
	}
	if runErr != nil {
		return "", fmt.Errorf("detect: %w", runErr)
	}
	stats.Detect = detStats

	if detStats.SignalsOut == 0 {
		if st, err := os.Stat(sigPath); err == nil && st.Size() == 0 {
			os.Remove(sigPath)
		}
		return "", nil
	}
	return sigPath, nil
}

// dispatch delivers this run's signals to the configured sinks and mirrors
// them onto the stream transport. A failed delivery is logged and counted but
// does not abort the remaining signals.
func (p *Pipeline) dispatch(ctx context.Context, sigPath string, stats *RunStats) error {
	in, err := jsonl.NewScanner(sigPath)
	if err != nil {
		return err
	}
	defer in.Close()

	streamName := p.cfg.Stream.Namespace + ".signals"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var sig event.Signal
		if !in.Next(&sig) {
			break
		}
		if err := p.disp.Dispatch(ctx, sig); err != nil {
			stats.AlertsErr++
			p.logger.Error("alert dispatch failed", "signal_id", sig.SignalID, "error", err)
		} else {
			stats.AlertsSent++
		}
		if p.mirror != nil {
			if err := p.mirror.Publish(ctx, streamName, sig); err != nil {
				p.logger.Error("stream mirror publish failed", "signal_id", sig.SignalID, "error", err)
			}
		}
	}
	if err := in.Err(); err != nil {
		return fmt.Errorf("read signal queue: %w", err)
	}
	return nil
}

// Close releases the long-lived resources. Called once at shutdown. The
// dedup store is compacted first, so expired entries do not accumulate in
// the state file across process lifetimes.
func (p *Pipeline) Close() error {
	var first error
	if p.mirror != nil {
		if err := p.mirror.Close(); err != nil {
			first = err
		}
	}
	if c, ok := p.dedup.(interface{ Compact() error }); ok {
		if err := c.Compact(); err != nil {
			p.logger.Warn("dedup store compaction failed", "error", err)
		}
	}
	if err := p.dedup.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
