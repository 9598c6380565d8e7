package event

import (
	"encoding/json"
	"regexp"

	"github.com/Bwenz68/supply-signals/internal/domain/model"
)

// Timestamp provenance values carried on a hardened Fact.
const (
	TimestampSourceOriginal   = "original"   // source carried explicit zone info
	TimestampSourceDerived    = "derived"    // naive source timestamp localized to a policy zone
	TimestampSourceBackfilled = "backfilled" // fell back to ingestion time or a sentinel
)

// StrictUTCPattern is the only accepted shape for event_datetime_utc on
// emitted Facts: YYYY-MM-DDTHH:MM:SSZ, no fractions, no offsets.
var StrictUTCPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

// Fact is the canonical, source-agnostic projection of a RawEvent. The
// original payload fields are preserved verbatim in Raw; canonical fields are
// overlaid at marshal time, so a Fact is always a strict superset of the
// RawEvent it was derived from.
type Fact struct {
	EventID string

	CanonicalCompany string
	CanonicalTicker  string
	CanonicalCIK     string
	EventKind        model.EventKind
	EventSubtype     string

	EventDatetimeUTC    string
	TimestampSource     string // original | derived | backfilled
	TimestampField      string // raw field the timestamp was read from
	TimestampBackfilled bool
	TimestampError      string // "" | missing | unparseable | out_of_range

	IngestedAtUTC  string
	NormalizeError string

	Raw map[string]json.RawMessage
}

// canonical JSON field names, kept in one place so Marshal/Unmarshal agree.
const (
	fieldEventID             = "event_id"
	fieldCanonicalCompany    = "canonical_company"
	fieldCanonicalTicker     = "canonical_ticker"
	fieldCanonicalCIK        = "canonical_cik"
	fieldEventKind           = "event_kind"
	fieldEventSubtype        = "event_subtype"
	fieldEventDatetimeUTC    = "event_datetime_utc"
	fieldTimestampSource     = "timestamp_source"
	fieldTimestampField      = "timestamp_field"
	fieldTimestampBackfilled = "timestamp_backfilled"
	fieldTimestampError      = "timestamp_error"
	fieldIngestedAtUTC       = "ingested_at_utc"
	fieldNormalizeError      = "normalize_error"
)

func (f Fact) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(f.Raw)+13)
	for k, v := range f.Raw {
		out[k] = v
	}
	setStr := func(key, val string) {
		if val != "" {
			b, _ := json.Marshal(val)
			out[key] = b
		}
	}
	setStr(fieldEventID, f.EventID)
	setStr(fieldCanonicalCompany, f.CanonicalCompany)
	setStr(fieldCanonicalTicker, f.CanonicalTicker)
	setStr(fieldCanonicalCIK, f.CanonicalCIK)
	setStr(fieldEventKind, string(f.EventKind))
	setStr(fieldEventSubtype, f.EventSubtype)
	setStr(fieldEventDatetimeUTC, f.EventDatetimeUTC)
	setStr(fieldTimestampSource, f.TimestampSource)
	setStr(fieldTimestampField, f.TimestampField)
	setStr(fieldTimestampError, f.TimestampError)
	setStr(fieldIngestedAtUTC, f.IngestedAtUTC)
	setStr(fieldNormalizeError, f.NormalizeError)
	if f.TimestampSource != "" {
		b, _ := json.Marshal(f.TimestampBackfilled)
		out[fieldTimestampBackfilled] = b
	}
	// map keys marshal in sorted order, so re-marshaling an unchanged Fact
	// is byte-identical.
	return json.Marshal(out)
}

func (f *Fact) UnmarshalJSON(b []byte) error {
	m := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	f.Raw = m
	f.EventID = rawString(m, fieldEventID)
	f.CanonicalCompany = rawString(m, fieldCanonicalCompany)
	f.CanonicalTicker = rawString(m, fieldCanonicalTicker)
	f.CanonicalCIK = rawString(m, fieldCanonicalCIK)
	f.EventKind = model.EventKind(rawString(m, fieldEventKind))
	f.EventSubtype = rawString(m, fieldEventSubtype)
	f.EventDatetimeUTC = rawString(m, fieldEventDatetimeUTC)
	f.TimestampSource = rawString(m, fieldTimestampSource)
	f.TimestampField = rawString(m, fieldTimestampField)
	f.TimestampError = rawString(m, fieldTimestampError)
	f.IngestedAtUTC = rawString(m, fieldIngestedAtUTC)
	f.NormalizeError = rawString(m, fieldNormalizeError)
	if raw, ok := m[fieldTimestampBackfilled]; ok {
		_ = json.Unmarshal(raw, &f.TimestampBackfilled)
	}
	return nil
}

// Str returns an original payload field as a string.
func (f Fact) Str(key string) string { return rawString(f.Raw, key) }

// Strings returns an original payload field as a string slice.
func (f Fact) Strings(key string) []string { return rawStrings(f.Raw, key) }

// Title returns the headline text of the underlying event.
func (f Fact) Title() string {
	if t := f.Str("title"); t != "" {
		return t
	}
	return f.Str("headline")
}

// Body returns the body text of the underlying event, if any.
func (f Fact) Body() string { return f.Str("body") }

// FirstURL returns the first URL carried by the underlying event.
func (f Fact) FirstURL() string {
	if u := f.Str("first_url"); u != "" {
		return u
	}
	if urls := f.Strings("urls"); len(urls) > 0 {
		return urls[0]
	}
	return f.Str("url")
}

// Source returns the trimmed lowercase source tag.
func (f Fact) Source() string {
	s := f.Str("source")
	if s == "" {
		s = f.Str("source_name")
	}
	return model.CanonicalText(s)
}

// Hardened reports whether the Fact already carries a strict UTC timestamp
// with provenance. The hardener treats such Facts as done.
func (f Fact) Hardened() bool {
	return f.TimestampSource != "" && StrictUTCPattern.MatchString(f.EventDatetimeUTC)
}

// IssuerKey returns the grouping key used by the signal detector: canonical
// ticker, then CIK, then casefolded company name, then a per-source bucket.
func (f Fact) IssuerKey() string {
	if f.CanonicalTicker != "" {
		return f.CanonicalTicker
	}
	if f.CanonicalCIK != "" {
		return "cik:" + f.CanonicalCIK
	}
	if f.CanonicalCompany != "" {
		return model.CanonicalText(f.CanonicalCompany)
	}
	if s := f.Source(); s != "" {
		return "unknown:" + s
	}
	return "unknown"
}
