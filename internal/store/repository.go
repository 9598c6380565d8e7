package store

import (
	"github.com/Bwenz68/supply-signals/internal/domain/event"
)

// DedupStore tracks which raw-event hashes have already produced a Fact.
// Implementations must be safe to reload across runs: once Record returns
// nil for a hash, Seen must report true for it on every later run inside the
// retention window.
type DedupStore interface {
	// Seen reports whether the hash is in the active window.
	Seen(hash string) bool
	// Record marks the hash seen and durably appends it to the store.
	Record(hash string, key event.DedupKey) error
	// Close flushes any buffered state.
	Close() error
}

// RecordWriter appends one record to a durable queue. The append must be
// atomic with respect to readers: a crash mid-append never leaves a torn
// record visible.
type RecordWriter interface {
	Append(v any) error
}

// RecordScanner iterates line-delimited records in file order. A trailing
// partial line is treated as not-yet-written and skipped without error.
type RecordScanner interface {
	// Next decodes the next record into v. Returns false when exhausted.
	Next(v any) bool
	// Err returns the first I/O or decode error encountered, if any.
	Err() error
}
