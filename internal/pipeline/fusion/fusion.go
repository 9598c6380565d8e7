// Package fusion combines the signals emitted for one issuer within a time
// window into a single 0-100 conviction score. Each component signal gets a
// base score and weight from its evidence score, and a sentiment direction
// from its rule hits; the fused conviction is the weighted mean, boosted when
// multiple components agree and damped when they conflict.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/Bwenz68/supply-signals/internal/domain/model"
	"github.com/Bwenz68/supply-signals/internal/metrics"
	"github.com/Bwenz68/supply-signals/internal/store"
	"github.com/Bwenz68/supply-signals/internal/tracing"
)

// DefaultWindow is the fusion window: signals for the same issuer generated
// within this span are combined.
const DefaultWindow = 48 * time.Hour

const signalTimeLayout = "2006-01-02T15:04:05Z"

// Fuser folds windows of signals into fused convictions.
type Fuser struct {
	window time.Duration
	logger *slog.Logger
	nowFn  func() time.Time
}

type Option func(*Fuser)

// WithClock overrides the fusion clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(f *Fuser) { f.nowFn = now }
}

func New(window time.Duration, logger *slog.Logger, opts ...Option) (*Fuser, error) {
	if window <= 0 {
		return nil, fmt.Errorf("fusion window must be positive, got %s", window)
	}
	f := &Fuser{
		window: window,
		logger: logger.With("component", "fusion"),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Stats counts outcomes across one fusion pass.
type Stats struct {
	SignalsIn  int
	FusionsOut int
}

// Run consumes the signal queue, groups signals by issuer, and emits one
// FusedSignal per issuer per time window. Emission follows first-contribution
// order across issuers, so output is deterministic for a given input queue.
func (f *Fuser) Run(ctx context.Context, in store.RecordScanner, out store.RecordWriter) (Stats, error) {
	ctx, span := tracing.Tracer("fusion").Start(ctx, "fusion.run")
	defer span.End()

	var stats Stats
	byIssuer := make(map[string][]event.Signal)
	var order []string

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var sig event.Signal
		if !in.Next(&sig) {
			break
		}
		stats.SignalsIn++
		metrics.FusionSignalsIn.Inc()
		if sig.IssuerKey == "" {
			continue
		}
		if _, ok := byIssuer[sig.IssuerKey]; !ok {
			order = append(order, sig.IssuerKey)
		}
		byIssuer[sig.IssuerKey] = append(byIssuer[sig.IssuerKey], sig)
	}
	if err := in.Err(); err != nil {
		return stats, fmt.Errorf("read signal queue: %w", err)
	}

	for _, key := range order {
		sigs := byIssuer[key]
		sort.SliceStable(sigs, func(i, j int) bool {
			return f.signalTime(&sigs[i]).Before(f.signalTime(&sigs[j]))
		})

		// Sliding window: anchor on the earliest unfused signal, take
		// everything within the window, fuse, advance past it.
		i := 0
		for i < len(sigs) {
			anchor := f.signalTime(&sigs[i])
			end := anchor.Add(f.window)
			j := i + 1
			for j < len(sigs) && !f.signalTime(&sigs[j]).After(end) {
				j++
			}
			fused := f.fuseWindow(sigs[i:j], anchor, end)
			if err := out.Append(fused); err != nil {
				return stats, fmt.Errorf("write fused signal: %w", err)
			}
			stats.FusionsOut++
			metrics.FusionFusionsOut.Inc()
			f.logger.Info("conviction fused",
				"issuer", fused.IssuerKey,
				"conviction", fused.ConvictionScore,
				"level", fused.ConvictionLevel,
				"signals", fused.NumSignals,
			)
			i = j
		}
	}

	f.logger.Info("fusion pass complete",
		"signals_in", stats.SignalsIn,
		"fusions_out", stats.FusionsOut,
	)
	return stats, nil
}

// signalTime parses the signal's generation time, falling back to the fusion
// clock for records with a missing or mangled timestamp.
func (f *Fuser) signalTime(sig *event.Signal) time.Time {
	t, err := time.Parse(signalTimeLayout, sig.GeneratedAtUTC)
	if err != nil {
		return f.nowFn().UTC()
	}
	return t
}

// component maps one signal's evidence score onto a base score, weight, and
// sentiment. Magnitude comes from the score band; direction comes from the
// net lean of the rule hits (mixed or unknown hits stay neutral).
func component(sig *event.Signal) event.FusedComponent {
	var base, weight, magnitude float64
	switch {
	case sig.Score >= 8:
		base, magnitude, weight = 80, 0.8, 1.8
	case sig.Score >= 5:
		base, magnitude, weight = 65, 0.5, 1.3
	case sig.Score >= 3:
		base, magnitude, weight = 55, 0.3, 1.0
	default:
		base, magnitude, weight = 45, 0, 0.8
	}

	sentiment := 0.0
	switch dir := model.NetDirection(sig.RuleHits); {
	case dir > 0:
		sentiment = magnitude
	case dir < 0:
		sentiment = -magnitude
	}

	return event.FusedComponent{
		SignalID:  sig.SignalID,
		Score:     sig.Score,
		BaseScore: base,
		Weight:    weight,
		Sentiment: sentiment,
	}
}

func (f *Fuser) fuseWindow(sigs []event.Signal, start, end time.Time) event.FusedSignal {
	comps := make([]event.FusedComponent, len(sigs))
	totalWeight := 0.0
	weightedScore := 0.0
	weightedSentiment := 0.0
	allNonNeg, allNonPos := true, true
	for i := range sigs {
		c := component(&sigs[i])
		comps[i] = c
		totalWeight += c.Weight
		weightedScore += c.BaseScore * c.Weight
		weightedSentiment += c.Sentiment * c.Weight
		if c.Sentiment < 0 {
			allNonNeg = false
		}
		if c.Sentiment > 0 {
			allNonPos = false
		}
	}

	conviction := 50.0
	netSentiment := 0.0
	if totalWeight > 0 {
		conviction = weightedScore / totalWeight
		netSentiment = weightedSentiment / totalWeight
	}

	alignment := "aligned"
	if !allNonNeg && !allNonPos {
		alignment = "conflicted"
		conviction *= 0.85
	} else if len(sigs) > 1 {
		conviction = math.Min(conviction*1.2, 100)
	}

	level := "NEUTRAL"
	switch {
	case conviction >= 80:
		level = "HIGH"
	case conviction >= 65:
		level = "MEDIUM"
	case conviction >= 50:
		level = "LOW"
	}

	first := &sigs[0]
	return event.FusedSignal{
		SignalType:      "fused_conviction",
		IssuerKey:       first.IssuerKey,
		Ticker:          first.Ticker,
		CIK:             first.CIK,
		Company:         first.Company,
		ConvictionScore: math.Round(conviction*10) / 10,
		ConvictionLevel: level,
		NetSentiment:    math.Round(netSentiment*100) / 100,
		Alignment:       alignment,
		NumSignals:      len(sigs),
		WindowStartUTC:  start.UTC().Format(signalTimeLayout),
		WindowEndUTC:    end.UTC().Format(signalTimeLayout),
		GeneratedAtUTC:  f.nowFn().UTC().Format(signalTimeLayout),
		Components:      comps,
	}
}
