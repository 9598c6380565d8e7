// Package alert renders finished Signals and delivers them through the
// configured sinks. Network sinks are dry-run unless explicitly armed; the
// pipeline's only hard obligation upstream is well-formed Signal records.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Bwenz68/supply-signals/internal/cache"
	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/Bwenz68/supply-signals/internal/metrics"
	"github.com/Bwenz68/supply-signals/internal/pipeline/retry"

	"log/slog"
)

// Alert is the flattened row rendered from a Signal for delivery.
type Alert struct {
	IssuerName       string
	Ticker           string
	CIK              string
	EventKind        string
	Score            int
	EventDatetimeUTC string
	Title            string
	FirstURL         string
	RuleHits         []string
}

// FromSignal flattens a Signal into an Alert, drawing display fields from
// the first contributing Fact.
func FromSignal(sig event.Signal) Alert {
	a := Alert{
		IssuerName: sig.Company,
		Ticker:     sig.Ticker,
		CIK:        sig.CIK,
		Score:      sig.Score,
		RuleHits:   sig.RuleHits,
	}
	if len(sig.Evidence) > 0 {
		first := sig.Evidence[0]
		a.EventKind = string(first.EventKind)
		a.EventDatetimeUTC = first.EventDatetimeUTC
		a.Title = first.Title()
		a.FirstURL = first.FirstURL()
	}
	if a.IssuerName == "" {
		a.IssuerName = sig.IssuerKey
	}
	return a
}

// Line renders the compact one-line console form.
func (a Alert) Line() string {
	tkr := a.Ticker
	if tkr == "" {
		tkr = "?"
	}
	name := a.IssuerName
	if name == "" {
		name = "?"
	}
	kind := a.EventKind
	if kind == "" {
		kind = "?"
	}
	return fmt.Sprintf("[%s] %s | %s | score=%d | %s", tkr, name, kind, a.Score, strings.TrimSpace(a.Title))
}

// cooldownKey identifies "the same alert" for suppression purposes.
func (a Alert) cooldownKey() string {
	return a.Ticker + "|" + a.CIK + "|" + strings.Join(a.RuleHits, ",")
}

// Sink delivers one alert somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a Alert) error
}

// Dispatcher fans alerts out to all sinks, suppressing repeats within the
// cooldown window and retrying transient delivery failures.
type Dispatcher struct {
	sinks         []Sink
	suppressed    *cache.LRU[string, bool]
	retryAttempts int
	retryInitial  time.Duration
	retryMax      time.Duration
	logger        *slog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithCooldown sets the suppression window for repeated alerts. Zero
// disables suppression.
func WithCooldown(window time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if window > 0 {
			d.suppressed = cache.NewLRU[string, bool](4096, window)
		}
	}
}

// WithRetry overrides the delivery retry policy.
func WithRetry(attempts int, initial, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.retryAttempts = attempts
		d.retryInitial = initial
		d.retryMax = max
	}
}

func NewDispatcher(logger *slog.Logger, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:         sinks,
		retryAttempts: 3,
		retryInitial:  200 * time.Millisecond,
		retryMax:      2 * time.Second,
		logger:        logger.With("component", "alerter"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers one Signal through every sink. Sink failures do not stop
// the other sinks; the first error is returned after all have been tried.
func (d *Dispatcher) Dispatch(ctx context.Context, sig event.Signal) error {
	a := FromSignal(sig)

	if d.suppressed != nil {
		key := a.cooldownKey()
		if _, dup := d.suppressed.Get(key); dup {
			for _, s := range d.sinks {
				metrics.AlertsSuppressedTotal.WithLabelValues(s.Name()).Inc()
			}
			d.logger.Debug("alert suppressed by cooldown", "key", key)
			return nil
		}
		d.suppressed.Put(key, true)
	}

	var firstErr error
	for _, s := range d.sinks {
		err := retry.Do(ctx, d.retryAttempts, d.retryInitial, d.retryMax, func() error {
			return s.Deliver(ctx, a)
		})
		if err != nil {
			metrics.AlertsFailedTotal.WithLabelValues(s.Name()).Inc()
			d.logger.Warn("alert delivery failed",
				"sink", s.Name(),
				"issuer", a.IssuerName,
				"error", err,
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("sink %s: %w", s.Name(), err)
			}
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(s.Name()).Inc()
	}
	return firstErr
}
