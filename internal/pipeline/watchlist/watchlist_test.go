package watchlist

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeWatchlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchlist.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCanonicalizesEntries(t *testing.T) {
	t.Parallel()

	path := writeWatchlist(t, `
# tickers
aapl
BRK.B

# ciks
320193
0000789019

!!not-a-ticker-or-cik!!
`)
	wl, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, wl.Size())

	assert.True(t, wl.Allowed(&event.Fact{CanonicalTicker: "AAPL"}))
	assert.True(t, wl.Allowed(&event.Fact{CanonicalTicker: "BRK.B"}))
	assert.True(t, wl.Allowed(&event.Fact{CanonicalCIK: "0000320193"}))
	assert.True(t, wl.Allowed(&event.Fact{CanonicalCIK: "0000789019"}))
	assert.False(t, wl.Allowed(&event.Fact{CanonicalTicker: "MSFT"}))
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"), testLogger())
	assert.Error(t, err)
}

func TestAllowedMatchesEitherIdentifier(t *testing.T) {
	t.Parallel()

	path := writeWatchlist(t, "AAPL\n")
	wl, err := Load(path, testLogger())
	require.NoError(t, err)

	// Ticker matches even when the CIK is off-list, and vice versa.
	assert.True(t, wl.Allowed(&event.Fact{CanonicalTicker: "AAPL", CanonicalCIK: "0000000001"}))
	assert.False(t, wl.Allowed(&event.Fact{CanonicalCIK: "0000000001"}))
	assert.False(t, wl.Allowed(&event.Fact{}))
}

func TestNilWatchlistAllowsEverything(t *testing.T) {
	t.Parallel()

	var wl *Watchlist
	assert.True(t, wl.Allowed(&event.Fact{}))
	assert.True(t, wl.Allowed(&event.Fact{CanonicalTicker: "ANY"}))
	assert.Equal(t, 0, wl.Size())
}
