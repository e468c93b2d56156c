// Package store provides the durable account table. All operations are
// serialized through a single writer goroutine, so callers get
// read-your-writes consistency without locks. Mutations mark the table dirty
// and a background ticker flushes the full table to disk with a
// write-temp-then-rename sequence; a crash mid-flush never corrupts the
// previous durable image.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// defaultFlushInterval is how often the dirty table is written to disk.
const defaultFlushInterval = time.Second

// Record is the durable mirror of one account. Elevated-session state and
// rotator bookkeeping are process-local and never persisted.
type Record struct {
	AccountID string    `json:"account_id"`
	Cookie    string    `json:"cookie"`
	Token     string    `json:"token,omitempty"`
	Expires   int64     `json:"expires,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status describes the store for health reporting.
type Status struct {
	Path      string    `json:"path"`
	Count     int       `json:"count"`
	Dirty     bool      `json:"dirty"`
	LastFlush time.Time `json:"last_flush,omitempty"`
}

// table is the in-memory image owned exclusively by the run goroutine.
type table struct {
	records   map[string]Record
	dirty     bool
	lastFlush time.Time
}

// Store is the durable account table.
type Store struct {
	path          string
	flushInterval time.Duration

	ops  chan func(*table)
	quit chan chan struct{}

	mu     sync.Mutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithFlushInterval overrides the background flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// Open loads the account table at path. A missing file starts an empty
// table; an unreadable or corrupt file is renamed aside as a timestamped
// backup and a fresh table is created. Open never fails because of file
// contents.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating data directory: %w", err)
	}

	s := &Store{
		path:          path,
		flushInterval: defaultFlushInterval,
		ops:           make(chan func(*table), 64),
		quit:          make(chan chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	t := &table{records: loadTable(path)}
	go s.run(t)
	return s, nil
}

// loadTable reads the durable file, quarantining it on corruption.
func loadTable(path string) map[string]Record {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]Record)
	}
	if err == nil {
		var records map[string]Record
		if jsonErr := json.Unmarshal(data, &records); jsonErr == nil {
			if records == nil {
				records = make(map[string]Record)
			}
			return records
		}
	}

	backup := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
	if renameErr := os.Rename(path, backup); renameErr != nil {
		log.Printf("STORE: failed to quarantine corrupt file path=%s err=%v", path, renameErr)
	} else {
		log.Printf("STORE: corrupt file backed up path=%s backup=%s", path, backup)
	}
	return make(map[string]Record)
}

// run is the single writer. Operations execute strictly in submission order;
// no two operations interleave.
func (s *Store) run(t *table) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-s.ops:
			op(t)
		case <-ticker.C:
			if t.dirty {
				s.flush(t)
			}
		case done := <-s.quit:
			// Drain queued operations before the final flush.
			for {
				select {
				case op := <-s.ops:
					op(t)
				default:
					if t.dirty {
						s.flush(t)
					}
					close(done)
					return
				}
			}
		}
	}
}

// flush writes the full table to a temp file and renames it over the
// durable file. Errors are logged and the table stays dirty for the next
// cycle.
func (s *Store) flush(t *table) {
	data, err := json.MarshalIndent(t.records, "", "  ")
	if err != nil {
		log.Printf("STORE: marshal failed path=%s err=%v", s.path, err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Printf("STORE: temp write failed path=%s err=%v", tmp, err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("STORE: rename failed path=%s err=%v", s.path, err)
		return
	}
	t.dirty = false
	t.lastFlush = time.Now()
}

// submit enqueues an operation and waits for it to run. Returns false when
// the store is closed.
func (s *Store) submit(op func(*table)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	done := make(chan struct{})
	s.ops <- func(t *table) {
		op(t)
		close(done)
	}
	s.mu.Unlock()
	<-done
	return true
}

// GetAll returns every record ordered by account id. Returns an empty slice
// on any internal failure.
func (s *Store) GetAll() []Record {
	var out []Record
	s.submit(func(t *table) {
		out = make([]Record, 0, len(t.records))
		for _, rec := range t.records {
			out = append(out, rec)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	})
	return out
}

// Upsert inserts or replaces the record for id. Returns false if the store
// is closed.
func (s *Store) Upsert(id string, rec Record) bool {
	return s.submit(func(t *table) {
		rec.AccountID = id
		rec.UpdatedAt = time.Now()
		t.records[id] = rec
		t.dirty = true
	})
}

// Delete removes the record for id. Returns false if the record was absent
// or the store is closed.
func (s *Store) Delete(id string) bool {
	existed := false
	ok := s.submit(func(t *table) {
		if _, existed = t.records[id]; existed {
			delete(t.records, id)
			t.dirty = true
		}
	})
	return ok && existed
}

// ClearAll wipes the table. Used when the credential set rotates and all
// prior account identities become invalid.
func (s *Store) ClearAll() bool {
	return s.submit(func(t *table) {
		if len(t.records) > 0 {
			t.records = make(map[string]Record)
			t.dirty = true
		}
	})
}

// Exists reports whether a record for id is present.
func (s *Store) Exists(id string) bool {
	found := false
	s.submit(func(t *table) {
		_, found = t.records[id]
	})
	return found
}

// Status returns a snapshot of the store's health.
func (s *Store) Status() Status {
	var st Status
	s.submit(func(t *table) {
		st = Status{
			Path:      s.path,
			Count:     len(t.records),
			Dirty:     t.dirty,
			LastFlush: t.lastFlush,
		}
	})
	return st
}

// Close drains pending operations, performs a final synchronous flush, and
// stops the writer. Safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	s.quit <- done
	<-done
}
