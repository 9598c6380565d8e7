// Package normalizer converts RawEvents from the raw queue into canonical
// Facts on the fact queue, delegating timestamp handling to the hardener and
// suppressing already-seen events through the dedup store.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/Bwenz68/supply-signals/internal/domain/model"
	"github.com/Bwenz68/supply-signals/internal/metrics"
	"github.com/Bwenz68/supply-signals/internal/pipeline/hardener"
	"github.com/Bwenz68/supply-signals/internal/store"
	"github.com/Bwenz68/supply-signals/internal/tracing"
	"github.com/google/uuid"
)

// Normalizer is a single-writer over one fact queue file per raw queue file.
type Normalizer struct {
	dedup         store.DedupStore
	dedupDisabled bool
	hardener      *hardener.Hardener
	refmap        map[string]model.IssuerRef // keyed by canonical CIK
	logger        *slog.Logger
	nowFn         func() time.Time
	newID         func() string
}

type Option func(*Normalizer)

// WithDedupDisabled bypasses the dedup gate entirely; every record emits a
// Fact and nothing is marked seen.
func WithDedupDisabled(disabled bool) Option {
	return func(n *Normalizer) { n.dedupDisabled = disabled }
}

// WithIssuerRefMap supplies the CIK-keyed reference map used to fill in
// missing ticker/company fields.
func WithIssuerRefMap(m map[string]model.IssuerRef) Option {
	return func(n *Normalizer) { n.refmap = m }
}

// WithClock overrides the ingestion clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.nowFn = now }
}

// WithIDGenerator overrides event ID generation. Test hook.
func WithIDGenerator(gen func() string) Option {
	return func(n *Normalizer) { n.newID = gen }
}

func New(dedup store.DedupStore, h *hardener.Hardener, logger *slog.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		dedup:    dedup,
		hardener: h,
		logger:   logger.With("component", "normalizer"),
		nowFn:    time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Stats counts outcomes across one normalization pass.
type Stats struct {
	RecordsIn  int
	FactsOut   int
	Duplicates int
	BadRecords int
	Hardening  hardener.Stats
}

// Run consumes RawEvents from in, in queue order, and appends one Fact per
// unseen event to out. The Fact is durably written before its dedup key is
// recorded, so a crash between the two reprocesses the event (at-least-once)
// rather than losing it.
func (n *Normalizer) Run(ctx context.Context, in store.RecordScanner, out store.RecordWriter) (Stats, error) {
	ctx, span := tracing.Tracer("normalizer").Start(ctx, "normalizer.run")
	defer span.End()

	var stats Stats
	type lineScanner interface{ NextLine() ([]byte, bool) }
	ls, rawLines := in.(lineScanner)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var raw event.RawEvent
		if rawLines {
			line, ok := ls.NextLine()
			if !ok {
				break
			}
			stats.RecordsIn++
			metrics.NormalizerRecordsIn.Inc()
			if err := json.Unmarshal(line, &raw); err != nil {
				// Malformed input is propagated as data, not dropped: the
				// downstream stages must be able to tell "missing" from
				// "corrupt".
				stats.BadRecords++
				metrics.NormalizerBadRecords.Inc()
				if err := n.emitBadRecord(line, out, &stats); err != nil {
					return stats, err
				}
				continue
			}
		} else {
			if !in.Next(&raw) {
				break
			}
			stats.RecordsIn++
			metrics.NormalizerRecordsIn.Inc()
		}

		if err := n.process(raw, out, &stats); err != nil {
			return stats, err
		}
	}
	if err := in.Err(); err != nil {
		return stats, fmt.Errorf("read raw queue: %w", err)
	}

	n.logger.Info("normalization pass complete",
		"records_in", stats.RecordsIn,
		"facts_out", stats.FactsOut,
		"duplicates", stats.Duplicates,
		"bad_records", stats.BadRecords,
	)
	return stats, nil
}

func (n *Normalizer) process(raw event.RawEvent, out store.RecordWriter, stats *Stats) error {
	fact := n.project(raw)
	n.hardener.Harden(&fact, &stats.Hardening)

	hash, key := event.DedupHash(&fact, n.nowFn())
	if !n.dedupDisabled && n.dedup.Seen(hash) {
		stats.Duplicates++
		metrics.NormalizerDuplicates.Inc()
		n.logger.Debug("duplicate suppressed", "hash", hash, "title", key.Title)
		return nil
	}

	// Durably write the Fact first, then mark the key seen. The reverse
	// order could mark an event seen whose Fact was never written.
	if err := out.Append(fact); err != nil {
		return fmt.Errorf("write fact: %w", err)
	}
	if !n.dedupDisabled {
		if err := n.dedup.Record(hash, key); err != nil {
			return fmt.Errorf("record dedup key: %w", err)
		}
	}
	stats.FactsOut++
	metrics.NormalizerFactsOut.Inc()
	return nil
}

// project builds the canonical Fact from a RawEvent. Strictly additive: all
// original fields are carried verbatim, canonical fields are overlaid.
func (n *Normalizer) project(raw event.RawEvent) event.Fact {
	fact := event.Fact{Raw: map[string]json.RawMessage{}}
	// Round-trip through the Fact decoder so canonical fields already present
	// on the record are picked up (re-normalization is a no-op for them).
	if b, err := json.Marshal(raw.Fields); err == nil {
		_ = json.Unmarshal(b, &fact)
	}
	if fact.EventID == "" {
		fact.EventID = n.newID()
	}
	if fact.IngestedAtUTC == "" {
		if v := raw.Str("ingested_at_utc"); v != "" {
			fact.IngestedAtUTC = v
		} else {
			fact.IngestedAtUTC = hardener.FormatStrict(n.nowFn())
		}
	}

	source := raw.Source()
	if fact.EventKind == "" {
		fact.EventKind = model.KindForSource(source)
	}
	if fact.EventSubtype == "" {
		fact.EventSubtype = n.subtype(raw)
	}
	n.enrichIssuer(raw, &fact)
	return fact
}

func (n *Normalizer) subtype(raw event.RawEvent) string {
	if v := raw.Str("doc_type"); v != "" {
		return v
	}
	if meta := raw.Obj("meta"); meta != nil {
		return rawField(meta, "doc_type")
	}
	return ""
}

// enrichIssuer resolves canonical ticker/CIK/company from the issuer object,
// the meta object, then top-level fields, then the reference map.
func (n *Normalizer) enrichIssuer(raw event.RawEvent, fact *event.Fact) {
	ticker := fact.CanonicalTicker
	cik := fact.CanonicalCIK
	company := fact.CanonicalCompany

	lookups := []map[string]json.RawMessage{raw.Obj("issuer"), raw.Obj("meta"), raw.Fields}
	for _, m := range lookups {
		if m == nil {
			continue
		}
		if ticker == "" {
			ticker = model.CanonicalTicker(rawField(m, "ticker"))
		}
		if cik == "" {
			cik = model.CanonicalCIK(firstNonEmpty(rawField(m, "cik"), rawField(m, "cik_str")))
		}
		if company == "" {
			company = firstNonEmpty(rawField(m, "company_name"), rawField(m, "company"))
		}
	}

	if cik != "" {
		if ref, ok := n.refmap[cik]; ok {
			if ticker == "" {
				ticker = model.CanonicalTicker(ref.Ticker)
			}
			if company == "" {
				company = ref.Company
			}
		}
	}

	fact.CanonicalTicker = ticker
	fact.CanonicalCIK = cik
	fact.CanonicalCompany = company
}

// emitBadRecord wraps an undecodable line in a Fact carrying the error
// marker and the original content, timestamped with the ingestion clock.
func (n *Normalizer) emitBadRecord(line []byte, out store.RecordWriter, stats *Stats) error {
	quoted, _ := json.Marshal(string(line))
	fact := event.Fact{
		EventID:             n.newID(),
		NormalizeError:      "invalid_json",
		IngestedAtUTC:       hardener.FormatStrict(n.nowFn()),
		EventDatetimeUTC:    hardener.FormatStrict(n.nowFn()),
		TimestampSource:     event.TimestampSourceBackfilled,
		TimestampBackfilled: true,
		TimestampError:      "missing",
		EventKind:           model.EventKindOther,
		Raw:                 map[string]json.RawMessage{"raw_line": quoted},
	}
	if err := out.Append(fact); err != nil {
		return fmt.Errorf("write error fact: %w", err)
	}
	stats.FactsOut++
	metrics.NormalizerFactsOut.Inc()
	return nil
}

func rawField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
