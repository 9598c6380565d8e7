// Package jsonl implements the append-only line-delimited queue files shared
// by every pipeline stage, plus the file-backed dedup store.
//
// Durability discipline: each record is written with a single O_APPEND write
// of the full line including the trailing newline, so a crash never leaves a
// torn record visible to a reader. Readers skip blank lines and treat a final
// line without a newline as not yet written.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Writer appends JSON records to a queue file.
type Writer struct {
	f    *os.File
	path string
}

// NewWriter opens (creating if needed) the queue file for appending.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}
	return &Writer{f: f, path: path}, nil
}

// Append marshals v and writes it as one line in a single write call.
func (w *Writer) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("append to %s: %w", w.path, err)
	}
	return nil
}

// Sync flushes the file to stable storage.
func (w *Writer) Sync() error { return w.f.Sync() }

func (w *Writer) Close() error { return w.f.Close() }

// Scanner reads JSON records from a queue file in file order.
type Scanner struct {
	r       io.Closer
	br      *bufio.Reader
	err     error
	lineNum int
}

// NewScanner opens the queue file for reading. A missing file yields a
// scanner that is immediately exhausted; callers treat absent queues as
// empty, matching repeated-run semantics.
func NewScanner(path string) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Scanner{}, nil
		}
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}
	return &Scanner{r: f, br: bufio.NewReader(f)}, nil
}

// Next decodes the next record into v. Blank lines are skipped; a trailing
// line without a newline is ignored (not yet fully written). A malformed JSON
// line sets Err and stops iteration; callers that want to recover the raw
// bytes use NextLine instead.
func (s *Scanner) Next(v any) bool {
	for {
		line, ok := s.nextLine()
		if !ok {
			return false
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			s.err = fmt.Errorf("line %d: %w", s.lineNum, err)
			return false
		}
		return true
	}
}

// NextLine returns the next complete non-blank raw line, for callers that
// want to handle decoding (and decode failures) themselves.
func (s *Scanner) NextLine() ([]byte, bool) {
	for {
		line, ok := s.nextLine()
		if !ok {
			return nil, false
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, true
	}
}

func (s *Scanner) nextLine() ([]byte, bool) {
	if s.br == nil || s.err != nil {
		return nil, false
	}
	line, err := s.br.ReadBytes('\n')
	if err == io.EOF {
		// No trailing newline: the writer has not finished this record.
		return nil, false
	}
	if err != nil {
		s.err = err
		return nil, false
	}
	s.lineNum++
	return line, true
}

// Err returns the first error encountered during scanning.
func (s *Scanner) Err() error { return s.err }

func (s *Scanner) Close() error {
	if s.r == nil {
		return nil
	}
	return s.r.Close()
}

// MultiScanner reads records from several queue files in sequence, in the
// order given. It lets a stage that accumulates state across an entire batch
// consume the whole queue directory as one stream.
type MultiScanner struct {
	paths []string
	cur   *Scanner
	err   error
}

func NewMultiScanner(paths []string) *MultiScanner {
	return &MultiScanner{paths: paths}
}

func (m *MultiScanner) Next(v any) bool {
	for {
		if m.err != nil {
			return false
		}
		if m.cur == nil {
			if len(m.paths) == 0 {
				return false
			}
			s, err := NewScanner(m.paths[0])
			m.paths = m.paths[1:]
			if err != nil {
				m.err = err
				return false
			}
			m.cur = s
		}
		if m.cur.Next(v) {
			return true
		}
		m.err = m.cur.Err()
		m.cur.Close()
		m.cur = nil
	}
}

// Err returns the first error encountered across the scanned files.
func (m *MultiScanner) Err() error { return m.err }

func (m *MultiScanner) Close() error {
	if m.cur == nil {
		return nil
	}
	return m.cur.Close()
}

// ListQueueFiles returns the queue files in dir matching suffix, sorted by
// name. Sorted order is the cross-file processing order for a batch run.
func ListQueueFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list queue dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// RewriteAtomic writes fn's output to a temp file in the same directory and
// renames it over path, so readers only ever observe the old or the new
// complete file.
func RewriteAtomic(path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp_*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
