package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "queue/raw_events", cfg.Queues.RawDir)
	assert.Equal(t, "queue/normalized_events", cfg.Queues.FactDir)
	assert.Equal(t, "queue/signals", cfg.Queues.SignalDir)
	assert.Equal(t, ".state/seen_events.jsonl", cfg.Dedupe.StatePath)
	assert.Equal(t, 7*24*time.Hour, cfg.Dedupe.TTL)
	assert.Equal(t, 3, cfg.Detector.Threshold)
	assert.Equal(t, "America/New_York", cfg.Harden.SECZone)
	assert.Equal(t, "UTC", cfg.Harden.PRZone)
	assert.False(t, cfg.Alerts.Live)
	assert.False(t, cfg.Stream.Enabled)
	assert.False(t, cfg.Fusion.Disable)
	assert.Equal(t, "queue/fused_signals", cfg.Fusion.OutDir)
	assert.Equal(t, 48*time.Hour, cfg.Fusion.Window)
	assert.Equal(t, time.Duration(0), cfg.Run.Interval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SIGNAL_THRESHOLD", "5")
	t.Setenv("DEDUPE_TTL_DAYS", "14")
	t.Setenv("SINKS_LIVE", "true")
	t.Setenv("RUN_INTERVAL_MS", "60000")

	cfg := Load()
	assert.Equal(t, 5, cfg.Detector.Threshold)
	assert.Equal(t, 14*24*time.Hour, cfg.Dedupe.TTL)
	assert.True(t, cfg.Alerts.Live)
	assert.Equal(t, time.Minute, cfg.Run.Interval)
}

func TestValidateThreshold(t *testing.T) {
	cfg := Load()
	cfg.Watchlist.ForceDisable = true

	cfg.Detector.Threshold = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)

	cfg.Detector.Threshold = 1
	assert.NoError(t, cfg.Validate())
}

func TestValidateWatchlistForceDisableWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.txt")
	require.NoError(t, os.WriteFile(path, []byte("AAPL\n"), 0o644))

	cfg := Load()
	cfg.Watchlist.Path = path
	cfg.Watchlist.ForceDisable = true

	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.WatchlistEnabled())
}

func TestValidateWatchlistExplicitMissingFileFails(t *testing.T) {
	cfg := Load()
	cfg.Watchlist.ForceDisable = false
	cfg.Watchlist.Path = filepath.Join(t.TempDir(), "absent.txt")

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidateWatchlistExplicitExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.txt")
	require.NoError(t, os.WriteFile(path, []byte("AAPL\n"), 0o644))

	cfg := Load()
	cfg.Watchlist.Path = path
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.WatchlistEnabled())
	assert.Equal(t, path, cfg.Watchlist.Path)
}

func TestValidateWatchlistDefaultPathOnlyWhenPresent(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "default.txt")

	cfg := Load()
	cfg.Watchlist.Path = ""
	cfg.Watchlist.DefaultPath = defaultPath

	// Default file absent: the feature stays off, no error.
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.WatchlistEnabled())

	// Default file present: it enables the feature.
	require.NoError(t, os.WriteFile(defaultPath, []byte("AAPL\n"), 0o644))
	cfg2 := Load()
	cfg2.Watchlist.Path = ""
	cfg2.Watchlist.DefaultPath = defaultPath
	require.NoError(t, cfg2.Validate())
	assert.True(t, cfg2.WatchlistEnabled())
	assert.Equal(t, defaultPath, cfg2.Watchlist.Path)
}

func TestValidateFusionWindow(t *testing.T) {
	cfg := Load()
	cfg.Watchlist.ForceDisable = true
	cfg.Fusion.Window = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)

	// A disabled fuser ignores the window.
	cfg.Fusion.Disable = true
	assert.NoError(t, cfg.Validate())
}

func TestValidateDedupeTTL(t *testing.T) {
	cfg := Load()
	cfg.Watchlist.ForceDisable = true
	cfg.Dedupe.TTL = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}
