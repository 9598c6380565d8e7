package alert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSignal(t *testing.T) event.Signal {
	t.Helper()
	var f event.Fact
	require.NoError(t, json.Unmarshal([]byte(`{
		"title":"Acme raises dividend",
		"url":"https://example.com/n",
		"event_kind":"PR",
		"event_datetime_utc":"2024-03-01T15:00:00Z"
	}`), &f))
	return event.Signal{
		SignalID:  "sig-1",
		IssuerKey: "ACME",
		Ticker:    "ACME",
		CIK:       "0000320193",
		Company:   "Acme Corp",
		Score:     4,
		Threshold: 3,
		RuleHits:  []string{"dividend"},
		Evidence:  []event.Fact{f},
	}
}

func TestFromSignal(t *testing.T) {
	t.Parallel()

	a := FromSignal(testSignal(t))
	assert.Equal(t, "Acme Corp", a.IssuerName)
	assert.Equal(t, "ACME", a.Ticker)
	assert.Equal(t, "PR", a.EventKind)
	assert.Equal(t, "2024-03-01T15:00:00Z", a.EventDatetimeUTC)
	assert.Equal(t, "Acme raises dividend", a.Title)
	assert.Equal(t, "https://example.com/n", a.FirstURL)
	assert.Equal(t, []string{"dividend"}, a.RuleHits)
}

func TestFromSignalIssuerNameFallback(t *testing.T) {
	t.Parallel()

	sig := testSignal(t)
	sig.Company = ""
	a := FromSignal(sig)
	assert.Equal(t, "ACME", a.IssuerName)
}

func TestAlertLine(t *testing.T) {
	t.Parallel()

	a := FromSignal(testSignal(t))
	assert.Equal(t, "[ACME] Acme Corp | PR | score=4 | Acme raises dividend", a.Line())

	empty := Alert{Score: 1}
	assert.Equal(t, "[?] ? | ? | score=1 | ", empty.Line())
}

// recordingSink captures delivered alerts and optionally fails first.
type recordingSink struct {
	name      string
	delivered []Alert
	failures  int
	err       error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, a Alert) error {
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	s.delivered = append(s.delivered, a)
	return nil
}

func TestDispatchFansOutToAllSinks(t *testing.T) {
	t.Parallel()

	s1 := &recordingSink{name: "one"}
	s2 := &recordingSink{name: "two"}
	d := NewDispatcher(testLogger(), []Sink{s1, s2})

	require.NoError(t, d.Dispatch(context.Background(), testSignal(t)))
	assert.Len(t, s1.delivered, 1)
	assert.Len(t, s2.delivered, 1)
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	s := &recordingSink{name: "flaky", failures: 2, err: errors.New("http status 503")}
	d := NewDispatcher(testLogger(), []Sink{s},
		WithRetry(3, time.Millisecond, 4*time.Millisecond))

	require.NoError(t, d.Dispatch(context.Background(), testSignal(t)))
	assert.Len(t, s.delivered, 1)
}

func TestDispatchSinkFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	bad := &recordingSink{name: "bad", failures: 10, err: errors.New("invalid payload")}
	good := &recordingSink{name: "good"}
	d := NewDispatcher(testLogger(), []Sink{bad, good},
		WithRetry(2, time.Millisecond, 2*time.Millisecond))

	err := d.Dispatch(context.Background(), testSignal(t))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sink bad")
	assert.Len(t, good.delivered, 1)
}

func TestDispatchCooldownSuppressesRepeats(t *testing.T) {
	t.Parallel()

	s := &recordingSink{name: "one"}
	d := NewDispatcher(testLogger(), []Sink{s}, WithCooldown(time.Hour))

	require.NoError(t, d.Dispatch(context.Background(), testSignal(t)))
	require.NoError(t, d.Dispatch(context.Background(), testSignal(t)))
	assert.Len(t, s.delivered, 1)

	// A different rule mix is a different alert.
	other := testSignal(t)
	other.RuleHits = []string{"buyback"}
	require.NoError(t, d.Dispatch(context.Background(), other))
	assert.Len(t, s.delivered, 2)
}

func TestDispatchNoCooldownDeliversRepeats(t *testing.T) {
	t.Parallel()

	s := &recordingSink{name: "one"}
	d := NewDispatcher(testLogger(), []Sink{s})

	require.NoError(t, d.Dispatch(context.Background(), testSignal(t)))
	require.NoError(t, d.Dispatch(context.Background(), testSignal(t)))
	assert.Len(t, s.delivered, 2)
}
