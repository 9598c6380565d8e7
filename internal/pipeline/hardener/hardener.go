// Package hardener derives strict UTC timestamps with provenance metadata
// for Facts in the normalization stage. The pass is idempotent: a Fact that
// already carries a strict timestamp and provenance is left untouched.
package hardener

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/Bwenz68/supply-signals/internal/metrics"
)

// Config selects the per-source default zones used to localize naive
// timestamps, and the process-wide disable switch.
type Config struct {
	Disabled     bool
	SECZone      string // default America/New_York
	PRZone       string // default UTC
	FallbackZone string // default UTC
}

// Hardener applies the timestamp hardening policy to Facts.
type Hardener struct {
	disabled bool
	zones    map[string]*time.Location // keyed by source family: "sec", "pr", ""
	logger   *slog.Logger
	nowFn    func() time.Time
}

// Stats counts outcomes across one run.
type Stats struct {
	AlreadyHardened int
	ParsedOK        int
	Backfilled      int
	ParseFail       int
	MissingOrError  int
}

// candidate timestamp fields per source family, in priority order.
var candidateFields = map[string][]string{
	"sec": {"filing_datetime", "acceptance_datetime", "published_at"},
	"pr":  {"pubDate", "published", "updated", "lastBuildDate"},
	"":    {"published_at", "updated", "pubDate", "published"},
}

func New(cfg Config, logger *slog.Logger) (*Hardener, error) {
	h := &Hardener{
		disabled: cfg.Disabled,
		zones:    make(map[string]*time.Location, 3),
		logger:   logger.With("component", "hardener"),
		nowFn:    time.Now,
	}
	for family, name := range map[string]string{
		"sec": orDefault(cfg.SECZone, "America/New_York"),
		"pr":  orDefault(cfg.PRZone, "UTC"),
		"":    orDefault(cfg.FallbackZone, "UTC"),
	} {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("load default zone %q: %w", name, err)
		}
		h.zones[family] = loc
	}
	return h, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Disabled reports whether the hardening pass is switched off entirely.
func (h *Hardener) Disabled() bool { return h.disabled }

// Harden mutates f in place according to the policy in the package doc.
// Facts are never rejected here: on total failure the Fact keeps an error
// reason and receives a best-effort sentinel timestamp.
func (h *Hardener) Harden(f *event.Fact, stats *Stats) {
	if h.disabled {
		return
	}
	if f.Hardened() {
		stats.AlreadyHardened++
		return
	}

	family := f.EventKind.SourceFamily()
	fields := candidateFields[family]
	zone := h.zones[family]

	hadCandidate := false
	lastReason := ""
	for _, field := range fields {
		val := f.Str(field)
		if val == "" {
			continue
		}
		hadCandidate = true
		t, hadZone, reason := ParseToUTC(val, zone)
		if reason != "" {
			lastReason = reason
			continue
		}
		f.EventDatetimeUTC = FormatStrict(t)
		f.TimestampField = field
		if hadZone {
			f.TimestampSource = event.TimestampSourceOriginal
		} else {
			f.TimestampSource = event.TimestampSourceDerived
		}
		f.TimestampBackfilled = false
		f.TimestampError = ""
		stats.ParsedOK++
		metrics.HardenerParsedOK.Inc()
		return
	}

	if hadCandidate {
		stats.ParseFail++
		metrics.HardenerParseFail.Inc()
		if lastReason == ReasonOutOfRange {
			f.TimestampError = ReasonOutOfRange
		} else {
			f.TimestampError = ReasonUnparseable
		}
	}

	// Secondary signal: ingestion time, when the adapter recorded one.
	ingested := f.IngestedAtUTC
	if ingested == "" {
		ingested = f.Str("ingested_at_utc")
	}
	if ingested != "" {
		if t, _, reason := ParseToUTC(ingested, time.UTC); reason == "" {
			f.EventDatetimeUTC = FormatStrict(t)
			f.TimestampField = "ingested_at_utc"
			f.TimestampSource = event.TimestampSourceBackfilled
			f.TimestampBackfilled = true
			stats.Backfilled++
			metrics.HardenerBackfilled.Inc()
			return
		}
		stats.ParseFail++
		f.TimestampError = ReasonUnparseable
	}

	if !hadCandidate && f.TimestampError == "" {
		f.TimestampError = ReasonMissing
	}
	stats.MissingOrError++
	metrics.HardenerMissingOrError.Inc()

	// Sentinel: the fact still flows downstream with its error marker, never
	// without a strict timestamp.
	f.EventDatetimeUTC = FormatStrict(h.nowFn())
	f.TimestampField = ""
	f.TimestampSource = event.TimestampSourceBackfilled
	f.TimestampBackfilled = true
	h.logger.Debug("timestamp hardening failed",
		"reason", f.TimestampError,
		"source", f.Source(),
		"title", f.Title(),
	)
}
