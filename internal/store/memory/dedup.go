// Package memory provides in-memory store implementations for tests and for
// runs that explicitly disable persistence.
package memory

import (
	"github.com/Bwenz68/supply-signals/internal/domain/event"
)

// DedupStore is a non-persistent DedupStore. State lives for the process
// lifetime only.
type DedupStore struct {
	seen map[string]event.DedupKey
}

func NewDedupStore() *DedupStore {
	return &DedupStore{seen: make(map[string]event.DedupKey)}
}

func (s *DedupStore) Seen(hash string) bool {
	_, ok := s.seen[hash]
	return ok
}

func (s *DedupStore) Record(hash string, key event.DedupKey) error {
	s.seen[hash] = key
	return nil
}

func (s *DedupStore) Close() error { return nil }

// Len reports the number of recorded hashes. Test helper.
func (s *DedupStore) Len() int { return len(s.seen) }
