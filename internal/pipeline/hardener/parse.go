package hardener

import (
	"regexp"
	"strings"
	"time"
)

// Parse failure reasons, carried verbatim into Fact.TimestampError.
const (
	ReasonMissing     = "missing"
	ReasonUnparseable = "unparseable"
	ReasonOutOfRange  = "out_of_range"
)

// Sanity window for event timestamps: inclusive lower, exclusive upper.
var (
	minEventTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	maxEventTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

type zoneInfo int

const (
	zoneExplicit zoneInfo = iota // layout carries a numeric offset or Z
	zoneAbbrev                   // layout carries a zone abbreviation
	zoneNaive                    // layout carries no zone at all
)

// layouts is the ordered format list. First successful match wins; the order
// is policy (ISO variants first, then RFC-1123/822 RSS forms), not inferred
// intent.
var layouts = []struct {
	layout string
	zone   zoneInfo
}{
	{time.RFC3339, zoneExplicit},
	{"2006-01-02T15:04:05-0700", zoneExplicit},
	{"2006-01-02T15:04:05", zoneNaive},
	{"2006-01-02 15:04:05Z07:00", zoneExplicit},
	{"2006-01-02 15:04:05 MST", zoneAbbrev},
	{"2006-01-02 15:04 MST", zoneAbbrev},
	{"2006-01-02", zoneNaive},
	{time.RFC1123Z, zoneExplicit},
	{time.RFC1123, zoneAbbrev},
	{"Mon, 2 Jan 2006 15:04:05 -0700", zoneExplicit},
	{"Mon, 2 Jan 2006 15:04:05 MST", zoneAbbrev},
	{"2 Jan 2006 15:04:05 -0700", zoneExplicit},
	{"2 Jan 2006 15:04:05 MST", zoneAbbrev},
}

// abbrevOffsets resolves the zone abbreviations RSS feeds actually use.
// time.Parse leaves unknown abbreviations at offset 0, so zoneAbbrev matches
// are re-anchored here. Abbreviations outside this table are treated as
// naive timestamps.
var abbrevOffsets = map[string]int{
	"UT":  0,
	"GMT": 0,
	"UTC": 0,
	"EST": -5 * 3600,
	"EDT": -4 * 3600,
	"CST": -6 * 3600,
	"CDT": -5 * 3600,
	"MST": -7 * 3600,
	"MDT": -6 * 3600,
	"PST": -8 * 3600,
	"PDT": -7 * 3600,
}

var (
	isoSpaceRe      = regexp.MustCompile(`^\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}(:\d{2})?$`)
	isoSlashDateRe  = regexp.MustCompile(`^\d{4}/\d{2}/\d{2}T`)
	isoNoSecondsRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}$`)
	multiWhitespace = regexp.MustCompile(`\s+`)
)

// normalizeCandidate fixes common quirks without changing semantics: space
// date/time separator, slashed dates, lowercase 'z', missing seconds.
func normalizeCandidate(s string) string {
	s = strings.TrimSpace(s)
	if isoSpaceRe.MatchString(s) {
		s = multiWhitespace.ReplaceAllString(s, "T")
	}
	if isoSlashDateRe.MatchString(s) {
		s = strings.Replace(s, "/", "-", 2)
	}
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	if isoNoSecondsRe.MatchString(s) {
		s += ":00"
	}
	return s
}

// ParseToUTC parses a timestamp string against the ordered format list and
// returns the UTC instant plus whether the source carried usable zone
// information. Naive results are localized to naiveZone before conversion.
// On failure the reason is one of ReasonMissing, ReasonUnparseable or
// ReasonOutOfRange.
func ParseToUTC(raw string, naiveZone *time.Location) (time.Time, bool, string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false, ReasonMissing
	}
	s = normalizeCandidate(s)
	if naiveZone == nil {
		naiveZone = time.UTC
	}

	for _, l := range layouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		hadZone := true
		switch l.zone {
		case zoneNaive:
			hadZone = false
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, naiveZone)
		case zoneAbbrev:
			name, offset := t.Zone()
			if offset == 0 && name != "UTC" && name != "GMT" && name != "UT" {
				if known, ok := abbrevOffsets[name]; ok {
					t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0,
						time.FixedZone(name, known))
				} else {
					hadZone = false
					t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, naiveZone)
				}
			}
		}

		utc := t.UTC()
		if utc.Before(minEventTime) || !utc.Before(maxEventTime) {
			return time.Time{}, hadZone, ReasonOutOfRange
		}
		return utc, hadZone, ""
	}
	return time.Time{}, false, ReasonUnparseable
}

// FormatStrict renders t in the strict queue format YYYY-MM-DDTHH:MM:SSZ.
func FormatStrict(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
