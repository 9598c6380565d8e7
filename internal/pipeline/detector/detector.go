// Package detector accumulates weighted evidence per issuer and emits a
// Signal once an issuer's score crosses the configured threshold.
//
// Accumulator scope policy: state is per batch run. Nothing persists across
// runs; issuers below threshold simply start from zero next time. A sliding
// cross-run window would be an explicit extension, not a default.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/Bwenz68/supply-signals/internal/domain/model"
	"github.com/Bwenz68/supply-signals/internal/metrics"
	"github.com/Bwenz68/supply-signals/internal/pipeline/watchlist"
	"github.com/Bwenz68/supply-signals/internal/store"
	"github.com/Bwenz68/supply-signals/internal/tracing"
	"github.com/google/uuid"
)

// DefaultThreshold is the minimum evidence score that emits a Signal.
const DefaultThreshold = 3

// Detector scores Facts grouped by issuer key for one batch run.
type Detector struct {
	threshold int
	watch     *watchlist.Watchlist // nil = gate disabled
	logger    *slog.Logger
	nowFn     func() time.Time
	newID     func() string
}

type Option func(*Detector)

// WithWatchlist installs the issuer gate. Facts whose issuer is not on the
// list are dropped silently before scoring.
func WithWatchlist(w *watchlist.Watchlist) Option {
	return func(d *Detector) { d.watch = w }
}

// WithClock overrides the signal generation clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.nowFn = now }
}

// WithIDGenerator overrides signal ID generation. Test hook.
func WithIDGenerator(gen func() string) Option {
	return func(d *Detector) { d.newID = gen }
}

func New(threshold int, logger *slog.Logger, opts ...Option) (*Detector, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive, got %d", threshold)
	}
	d := &Detector{
		threshold: threshold,
		logger:    logger.With("component", "detector"),
		nowFn:     time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// accumulator holds one issuer's running evidence. Score only ever grows
// within a run; facts are never removed or rescored.
type accumulator struct {
	issuerKey string
	ticker    string
	cik       string
	company   string
	score     int
	hits      []model.RuleTag
	hitSet    map[model.RuleTag]struct{}
	evidence  []event.Fact
}

// Stats counts outcomes across one detection pass.
type Stats struct {
	FactsIn          int
	WatchlistDropped int
	SignalsOut       int
}

// Run consumes the fact queue, applies the optional watchlist gate, scores
// each fact, and emits one Signal per issuer whose accumulated score is at
// or above the threshold. Emission order follows first-contribution order,
// so output is deterministic for a given input queue.
func (d *Detector) Run(ctx context.Context, in store.RecordScanner, out store.RecordWriter) (Stats, error) {
	ctx, span := tracing.Tracer("detector").Start(ctx, "detector.run")
	defer span.End()

	var stats Stats
	accs := make(map[string]*accumulator)
	var order []string

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var fact event.Fact
		if !in.Next(&fact) {
			break
		}
		stats.FactsIn++
		metrics.DetectorFactsIn.Inc()

		if !d.watch.Allowed(&fact) {
			stats.WatchlistDropped++
			metrics.WatchlistDropped.Inc()
			continue
		}

		d.score(&fact, accs, &order)
	}
	if err := in.Err(); err != nil {
		return stats, fmt.Errorf("read fact queue: %w", err)
	}

	for _, key := range order {
		acc := accs[key]
		if acc.score < d.threshold || len(acc.hits) == 0 {
			continue
		}
		sig := d.buildSignal(acc)
		if err := out.Append(sig); err != nil {
			return stats, fmt.Errorf("write signal: %w", err)
		}
		stats.SignalsOut++
		metrics.DetectorSignalsOut.Inc()
		d.logger.Info("signal emitted",
			"issuer", acc.issuerKey,
			"score", acc.score,
			"threshold", d.threshold,
			"facts", len(acc.evidence),
		)
	}

	d.logger.Info("detection pass complete",
		"facts_in", stats.FactsIn,
		"watchlist_dropped", stats.WatchlistDropped,
		"signals_out", stats.SignalsOut,
	)
	return stats, nil
}

func (d *Detector) score(fact *event.Fact, accs map[string]*accumulator, order *[]string) {
	key := fact.IssuerKey()
	acc, ok := accs[key]
	if !ok {
		acc = &accumulator{
			issuerKey: key,
			ticker:    fact.CanonicalTicker,
			cik:       fact.CanonicalCIK,
			company:   fact.CanonicalCompany,
			hitSet:    make(map[model.RuleTag]struct{}),
		}
		accs[key] = acc
		*order = append(*order, key)
	}
	if acc.company == "" {
		acc.company = fact.CanonicalCompany
	}

	text := strings.TrimSpace(fact.Title() + " " + fact.Body())
	hits := model.HitTags(text)
	weight := model.ScoreHits(hits, fact.EventKind, fact.EventSubtype)

	acc.score += weight
	for _, h := range hits {
		if _, seen := acc.hitSet[h]; !seen {
			acc.hitSet[h] = struct{}{}
			acc.hits = append(acc.hits, h)
		}
	}
	acc.evidence = append(acc.evidence, *fact)
}

func (d *Detector) buildSignal(acc *accumulator) event.Signal {
	hits := make([]string, len(acc.hits))
	for i, h := range acc.hits {
		hits[i] = string(h)
	}
	return event.Signal{
		SignalID:       d.newID(),
		IssuerKey:      acc.issuerKey,
		Ticker:         acc.ticker,
		CIK:            acc.cik,
		Company:        acc.company,
		Score:          acc.score,
		Threshold:      d.threshold,
		RuleHits:       hits,
		Evidence:       acc.evidence,
		GeneratedAtUTC: d.nowFn().UTC().Format("2006-01-02T15:04:05Z"),
	}
}
