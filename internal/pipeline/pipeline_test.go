package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Bwenz68/supply-signals/internal/config"
	"github.com/Bwenz68/supply-signals/internal/domain/event"
	redisstream "github.com/Bwenz68/supply-signals/internal/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Load()
	cfg.Queues.RawDir = filepath.Join(root, "raw")
	cfg.Queues.FactDir = filepath.Join(root, "facts")
	cfg.Queues.SignalDir = filepath.Join(root, "signals")
	cfg.Dedupe.StatePath = filepath.Join(root, "state", "seen.jsonl")
	cfg.Fusion.OutDir = filepath.Join(root, "fused")
	cfg.Watchlist.ForceDisable = true
	cfg.Ref.UniversePath = filepath.Join(root, "universe.tsv")
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeRawFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func readSignals(t *testing.T, path string) []event.Signal {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var signals []event.Signal
	for _, line := range splitLines(data) {
		var sig event.Signal
		require.NoError(t, json.Unmarshal(line, &sig))
		signals = append(signals, sig)
	}
	return signals
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines
}

func TestRunBatchEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeRawFile(t, cfg.Queues.RawDir, "events.jsonl",
		`{"source":"pr","title":"Acme raises dividend","pubDate":"2024-03-01T10:00:00Z","url":"https://example.com/1","issuer":{"ticker":"ACME","company_name":"Acme Corp"}}`,
		`{"source":"pr","title":"Acme announces share buyback","pubDate":"2024-03-01T11:00:00Z","url":"https://example.com/2","issuer":{"ticker":"ACME","company_name":"Acme Corp"}}`,
		`{"source":"pr","title":"Unrelated quarterly report","pubDate":"2024-03-01T12:00:00Z","url":"https://example.com/3","issuer":{"ticker":"ZZZ"}}`,
	)

	mirror := redisstream.NewInMemoryStream()
	p, err := New(cfg, testLogger(), WithMirror(mirror))
	require.NoError(t, err)
	defer p.Close()
	p.nowFn = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	stats, err := p.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Normalize.RecordsIn)
	assert.Equal(t, 3, stats.Normalize.FactsOut)
	assert.Equal(t, 1, stats.Detect.SignalsOut)
	assert.Equal(t, 1, stats.AlertsSent)
	require.NotEmpty(t, stats.SignalFile)

	// One fact file per raw file.
	factPath := filepath.Join(cfg.Queues.FactDir, "events.norm.jsonl")
	_, err = os.Stat(factPath)
	require.NoError(t, err)

	signals := readSignals(t, stats.SignalFile)
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, "ACME", sig.IssuerKey)
	assert.Equal(t, 5, sig.Score) // dividend (2) + buyback (3)
	assert.ElementsMatch(t, []string{"dividend", "buyback"}, sig.RuleHits)
	require.Len(t, sig.Evidence, 2)

	// The signal was mirrored onto the stream.
	entries := mirror.Entries(cfg.Stream.Namespace + ".signals")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], `"issuer_key":"ACME"`)

	// The signal was fused into a conviction record: score 5 lands in the
	// middle band, single signal, no boost.
	assert.Equal(t, 1, stats.Fuse.FusionsOut)
	require.NotEmpty(t, stats.FusedFile)
	fusedData, err := os.ReadFile(stats.FusedFile)
	require.NoError(t, err)
	assert.Contains(t, string(fusedData), `"issuer_key":"ACME"`)
	assert.Contains(t, string(fusedData), `"conviction_score":65`)
	assert.Contains(t, string(fusedData), `"conviction_level":"MEDIUM"`)
}

func TestRunBatchSecondRunIsQuiet(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeRawFile(t, cfg.Queues.RawDir, "events.jsonl",
		`{"source":"pr","title":"Acme raises dividend","pubDate":"2024-03-01T10:00:00Z","url":"https://example.com/1","issuer":{"ticker":"ACME"}}`,
	)

	p, err := New(cfg, testLogger())
	require.NoError(t, err)
	stats, err := p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Normalize.FactsOut)
	require.NoError(t, p.Close())

	// A fresh pipeline over the same queues: the dedup store suppresses the
	// already-normalized event, so no new fact is appended.
	p2, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer p2.Close()
	stats2, err := p2.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats2.Normalize.RecordsIn)
	assert.Equal(t, 0, stats2.Normalize.FactsOut)
	assert.Equal(t, 1, stats2.Normalize.Duplicates)
}

func TestRunBatchEmptyQueuesNoSignalFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	p, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer p.Close()

	stats, err := p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Normalize.RecordsIn)
	assert.Empty(t, stats.SignalFile)

	entries, err := os.ReadDir(cfg.Queues.SignalDir)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestRunBatchBelowThresholdLeavesNoSignalFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeRawFile(t, cfg.Queues.RawDir, "events.jsonl",
		`{"source":"pr","title":"Acme raises dividend","pubDate":"2024-03-01T10:00:00Z","issuer":{"ticker":"ACME"}}`,
	)

	p, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer p.Close()

	stats, err := p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Normalize.FactsOut)
	assert.Equal(t, 0, stats.Detect.SignalsOut)
	assert.Empty(t, stats.SignalFile)

	entries, err := os.ReadDir(cfg.Queues.SignalDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunBatchWatchlistGating(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	wlPath := filepath.Join(t.TempDir(), "watchlist.txt")
	require.NoError(t, os.WriteFile(wlPath, []byte("ACME\n"), 0o644))
	cfg.Watchlist.ForceDisable = false
	cfg.Watchlist.Path = wlPath
	require.NoError(t, cfg.Validate())

	writeRawFile(t, cfg.Queues.RawDir, "events.jsonl",
		`{"source":"pr","title":"Acme announces share buyback","pubDate":"2024-03-01T10:00:00Z","issuer":{"ticker":"ACME"}}`,
		`{"source":"pr","title":"Other announces share buyback","pubDate":"2024-03-01T10:00:00Z","issuer":{"ticker":"OTHER"}}`,
	)

	p, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer p.Close()

	stats, err := p.RunBatch(context.Background())
	require.NoError(t, err)

	// Both facts are written (watchlist drops never touch dedup or the fact
	// queue), but only the listed issuer is scored.
	assert.Equal(t, 2, stats.Normalize.FactsOut)
	assert.Equal(t, 1, stats.Detect.WatchlistDropped)
	assert.Equal(t, 1, stats.Detect.SignalsOut)

	signals := readSignals(t, stats.SignalFile)
	require.Len(t, signals, 1)
	assert.Equal(t, "ACME", signals[0].IssuerKey)
}
