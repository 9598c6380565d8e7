package jsonl

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Bwenz68/supply-signals/internal/domain/event"
)

// seenRecord is one persisted dedup entry.
type seenRecord struct {
	Hash         string         `json:"hash"`
	FirstSeenUTC time.Time      `json:"first_seen_utc"`
	LastSeenUTC  time.Time      `json:"last_seen_utc"`
	Key          event.DedupKey `json:"key"`
}

// DedupStore is the append-only file-backed dedup store. The full history
// stays on disk; the in-memory active window holds entries whose first
// sighting is within the TTL. Entries are appended as they are recorded, so
// a crash after Record never loses a mark that was reported durable.
type DedupStore struct {
	path   string
	ttl    time.Duration
	f      *os.File
	active map[string]*seenRecord
	nowFn  func() time.Time
	logger *slog.Logger
}

// OpenDedupStore loads the active window from path, creating the file (and
// parent directory) when absent. Corrupt lines are skipped; the store stays
// usable.
func OpenDedupStore(path string, ttl time.Duration, logger *slog.Logger) (*DedupStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &DedupStore{
		path:   path,
		ttl:    ttl,
		active: make(map[string]*seenRecord),
		nowFn:  time.Now,
		logger: logger.With("component", "dedup_store"),
	}
	if err := s.loadActive(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dedup store %s: %w", path, err)
	}
	s.f = f
	return s, nil
}

func (s *DedupStore) loadActive() error {
	sc, err := NewScanner(s.path)
	if err != nil {
		return err
	}
	defer sc.Close()

	now := s.nowFn().UTC()
	skipped := 0
	for {
		line, ok := sc.NextLine()
		if !ok {
			break
		}
		var rec seenRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Hash == "" || rec.FirstSeenUTC.IsZero() {
			skipped++
			continue
		}
		if now.Sub(rec.FirstSeenUTC) < s.ttl {
			r := rec
			s.active[rec.Hash] = &r
		}
	}
	if skipped > 0 {
		s.logger.Warn("skipped corrupt dedup entries", "count", skipped, "path", s.path)
	}
	s.logger.Debug("dedup window loaded", "active", len(s.active), "ttl", s.ttl)
	return sc.Err()
}

// Seen reports whether hash is within the active window.
func (s *DedupStore) Seen(hash string) bool {
	_, ok := s.active[hash]
	return ok
}

// Record marks hash seen and appends it to the store file. The caller must
// have durably written the derived Fact first; see the normalizer contract.
func (s *DedupStore) Record(hash string, key event.DedupKey) error {
	now := s.nowFn().UTC()
	rec, ok := s.active[hash]
	if !ok {
		rec = &seenRecord{Hash: hash, FirstSeenUTC: now, Key: key}
		s.active[hash] = rec
	}
	rec.LastSeenUTC = now

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dedup entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append dedup entry: %w", err)
	}
	return nil
}

// Compact rewrites the store file keeping only active entries. Safe against
// crashes via temp-file rename. The append handle is reopened on the new
// file, since the rename unlinks the inode the old handle points at; marks
// recorded after a Compact must land in the surviving file.
func (s *DedupStore) Compact() error {
	now := s.nowFn().UTC()
	err := RewriteAtomic(s.path, func(w io.Writer) error {
		for hash, rec := range s.active {
			if now.Sub(rec.FirstSeenUTC) >= s.ttl {
				delete(s.active, hash)
				continue
			}
			line, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal dedup entry: %w", err)
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.f.Close()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen dedup store %s: %w", s.path, err)
	}
	s.f = f
	return nil
}

// Flush forces appended entries to stable storage without closing the store.
// Interval runs flush between batches and close only on shutdown.
func (s *DedupStore) Flush() error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync dedup store: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *DedupStore) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("sync dedup store: %w", err)
	}
	return s.f.Close()
}
