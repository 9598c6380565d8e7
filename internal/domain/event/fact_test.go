package event

import (
	"encoding/json"
	"testing"

	"github.com/Bwenz68/supply-signals/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactMarshalIsSupersetOfRaw(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"source":"sec","title":"Acme 8-K","filing_datetime":"2024-03-01 10:00 EST","custom_field":{"nested":true}}`)
	var f Fact
	require.NoError(t, json.Unmarshal(raw, &f))

	f.EventID = "ev-1"
	f.CanonicalTicker = "ACME"
	f.EventKind = model.EventKindSEC
	f.EventDatetimeUTC = "2024-03-01T15:00:00Z"
	f.TimestampSource = TimestampSourceOriginal
	f.TimestampField = "filing_datetime"

	out, err := json.Marshal(f)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &m))

	// Every original field survives verbatim.
	assert.JSONEq(t, `"sec"`, string(m["source"]))
	assert.JSONEq(t, `"Acme 8-K"`, string(m["title"]))
	assert.JSONEq(t, `"2024-03-01 10:00 EST"`, string(m["filing_datetime"]))
	assert.JSONEq(t, `{"nested":true}`, string(m["custom_field"]))

	// Canonical fields are overlaid.
	assert.JSONEq(t, `"ev-1"`, string(m["event_id"]))
	assert.JSONEq(t, `"ACME"`, string(m["canonical_ticker"]))
	assert.JSONEq(t, `"2024-03-01T15:00:00Z"`, string(m["event_datetime_utc"]))
	assert.JSONEq(t, `"original"`, string(m["timestamp_source"]))
	assert.JSONEq(t, `false`, string(m["timestamp_backfilled"]))
}

func TestFactRemarshalIsByteIdentical(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"source":"pr","title":"Dividend raised","pubDate":"Mon, 02 Sep 2024 08:00:00 GMT","urls":["https://x.test/a"]}`)
	var f Fact
	require.NoError(t, json.Unmarshal(raw, &f))
	f.EventID = "ev-2"
	f.EventDatetimeUTC = "2024-09-02T08:00:00Z"
	f.TimestampSource = TimestampSourceOriginal
	f.TimestampField = "pubDate"

	first, err := json.Marshal(f)
	require.NoError(t, err)

	var round Fact
	require.NoError(t, json.Unmarshal(first, &round))
	second, err := json.Marshal(round)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestFactHardened(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fact     Fact
		hardened bool
	}{
		{"strict timestamp with provenance", Fact{EventDatetimeUTC: "2024-03-01T15:00:00Z", TimestampSource: TimestampSourceOriginal}, true},
		{"backfilled counts", Fact{EventDatetimeUTC: "2024-03-01T15:00:00Z", TimestampSource: TimestampSourceBackfilled}, true},
		{"no provenance", Fact{EventDatetimeUTC: "2024-03-01T15:00:00Z"}, false},
		{"offset timestamp rejected", Fact{EventDatetimeUTC: "2024-03-01T15:00:00+00:00", TimestampSource: TimestampSourceOriginal}, false},
		{"fractional seconds rejected", Fact{EventDatetimeUTC: "2024-03-01T15:00:00.123Z", TimestampSource: TimestampSourceOriginal}, false},
		{"empty", Fact{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.hardened, tc.fact.Hardened())
		})
	}
}

func TestFactIssuerKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fact     Fact
		expected string
	}{
		{"ticker wins", Fact{CanonicalTicker: "ACME", CanonicalCIK: "0000000001", CanonicalCompany: "Acme"}, "ACME"},
		{"cik next", Fact{CanonicalCIK: "0000320193", CanonicalCompany: "Apple Inc"}, "cik:0000320193"},
		{"company casefolded", Fact{CanonicalCompany: "Acme  Corp"}, "acme corp"},
		{"source bucket", Fact{Raw: map[string]json.RawMessage{"source": json.RawMessage(`"PR"`)}}, "unknown:pr"},
		{"nothing at all", Fact{}, "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.fact.IssuerKey())
		})
	}
}

func TestFactAccessors(t *testing.T) {
	t.Parallel()

	var f Fact
	require.NoError(t, json.Unmarshal([]byte(`{
		"headline":"Fallback headline",
		"urls":["https://a.test/1","https://a.test/2"],
		"source_name":"  NewsroomRSS  "
	}`), &f))

	assert.Equal(t, "Fallback headline", f.Title())
	assert.Equal(t, "https://a.test/1", f.FirstURL())
	assert.Equal(t, "newsroomrss", f.Source())
	assert.Equal(t, "", f.Body())
}
