package event

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/Bwenz68/supply-signals/internal/domain/model"
)

// DedupKey is the canonicalized tuple hashed into the stable dedup hash.
// Kept alongside the hash in the persisted store for debuggability.
type DedupKey struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Date   string `json:"date"`
}

// trackingParams are query parameters stripped during URL canonicalization,
// in addition to every utm_* parameter.
var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"igshid":  {},
	"ref":     {},
	"ref_src": {},
}

// DedupHash computes the stable dedup hash for a Fact:
// sha256 over "source|title|first_url|YYYY-MM-DD", all parts canonicalized.
// The date comes from the hardened timestamp when present, otherwise from
// the fallback clock (normally the ingestion time).
func DedupHash(f *Fact, fallback time.Time) (string, DedupKey) {
	key := DedupKey{
		Source: f.Source(),
		Title:  model.CanonicalText(f.Title()),
		URL:    NormalizeURL(f.FirstURL()),
		Date:   eventDate(f, fallback),
	}
	sum := sha256.Sum256([]byte(key.Source + "|" + key.Title + "|" + key.URL + "|" + key.Date))
	return hex.EncodeToString(sum[:]), key
}

func eventDate(f *Fact, fallback time.Time) string {
	for _, candidate := range []string{f.EventDatetimeUTC, f.Str("filing_datetime"), f.Str("pubDate")} {
		if candidate == "" {
			continue
		}
		if t, ok := parseLoose(candidate); ok {
			return t.UTC().Format("2006-01-02")
		}
	}
	return fallback.UTC().Format("2006-01-02")
}

// parseLoose accepts the timestamp shapes that survive normalization:
// strict/offset ISO and the common RFC-822 RSS forms.
func parseLoose(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC1123Z,
		time.RFC1123,
		"2 Jan 2006 15:04:05 -0700",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeURL canonicalizes a URL for dedup purposes: lowercase scheme and
// host, strip a leading "www.", drop the fragment and tracking query
// parameters, and treat a bare "/" path as empty. Unparseable input is
// returned trimmed so it still hashes deterministically.
func NormalizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	u.Host = host
	u.Fragment = ""
	if u.Path == "/" {
		u.Path = ""
	}
	u.RawQuery = filterQuery(u.RawQuery)
	return u.String()
}

// filterQuery removes tracking parameters while preserving the order of the
// remaining pairs.
func filterQuery(q string) string {
	if q == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		name := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			name = pair[:i]
		}
		name = strings.ToLower(name)
		if strings.HasPrefix(name, "utm_") {
			continue
		}
		if _, drop := trackingParams[name]; drop {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
