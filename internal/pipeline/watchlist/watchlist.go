// Package watchlist implements the optional issuer allow-list gating the
// detection stage. Resolution into one of three states (disabled, enabled,
// enabled-but-misconfigured) happens once at startup in the config layer;
// this package only loads and evaluates a resolved list.
package watchlist

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
	"github.com/Bwenz68/supply-signals/internal/domain/model"
)

// Watchlist is an immutable set of issuer identifiers. A nil *Watchlist
// means the feature is disabled and every Fact passes.
type Watchlist struct {
	tickers map[string]struct{} // canonical uppercase
	ciks    map[string]struct{} // 10-digit zero-padded
}

// Load reads a plain-text watchlist: one identifier per line, blank lines
// and '#' comments ignored. Numeric lines are CIKs, anything else is tried
// as a ticker; tokens matching neither are skipped with a single warning.
// A missing file is the caller's fail-fast condition and is returned as-is.
func Load(path string, logger *slog.Logger) (*Watchlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watchlist %s: %w", path, err)
	}
	defer f.Close()

	wl := &Watchlist{
		tickers: make(map[string]struct{}),
		ciks:    make(map[string]struct{}),
	}
	var invalid []string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if cik := model.CanonicalCIK(line); cik != "" {
			wl.ciks[cik] = struct{}{}
			continue
		}
		if ticker := model.CanonicalTicker(line); ticker != "" {
			wl.tickers[ticker] = struct{}{}
			continue
		}
		invalid = append(invalid, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read watchlist %s: %w", path, err)
	}

	if len(invalid) > 0 {
		preview := invalid
		if len(preview) > 10 {
			preview = preview[:10]
		}
		logger.Warn("watchlist: ignored invalid tokens",
			"count", len(invalid),
			"preview", strings.Join(preview, ", "),
		)
	}
	logger.Info("watchlist loaded",
		"path", path,
		"tickers", len(wl.tickers),
		"ciks", len(wl.ciks),
	)
	return wl, nil
}

// Allowed reports whether the Fact's issuer is on the list. A nil receiver
// (feature disabled) allows everything. Watchlist drops never touch dedup
// state: "seen" and "relevant" are deliberately separate.
func (w *Watchlist) Allowed(f *event.Fact) bool {
	if w == nil {
		return true
	}
	if f.CanonicalTicker != "" {
		if _, ok := w.tickers[f.CanonicalTicker]; ok {
			return true
		}
	}
	if f.CanonicalCIK != "" {
		if _, ok := w.ciks[f.CanonicalCIK]; ok {
			return true
		}
	}
	return false
}

// Size returns the number of identifiers on the list.
func (w *Watchlist) Size() int {
	if w == nil {
		return 0
	}
	return len(w.tickers) + len(w.ciks)
}
