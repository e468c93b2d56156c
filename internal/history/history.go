// Package history persists pool lifecycle events (rotations, cooldowns,
// reloads, account changes) in a local SQLite database for the admin API's
// history endpoint.
package history

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event names recorded by the pool.
const (
	EventRotated       = "account.rotated"
	EventCooldown      = "account.cooldown"
	EventAdded         = "account.added"
	EventRemoved       = "account.removed"
	EventReloaded      = "pool.reloaded"
	EventRefreshFailed = "cli.refresh_failed"
	EventCountersReset = "cli.counters_reset"
)

// Event is one recorded pool event.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id,omitempty"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
}

// Store is the SQLite-backed event log.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", path, err)
	}

	s := &Store{db: db, path: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	event TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pool_events_event ON pool_events(event);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record appends one event.
func (s *Store) Record(accountID, event, detail string) error {
	_, err := s.db.Exec(
		"INSERT INTO pool_events (ts, account_id, event, detail) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano), accountID, event, detail,
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns the n most recent events, newest first.
func (s *Store) Recent(n int) ([]Event, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.Query(
		"SELECT id, ts, account_id, event, detail FROM pool_events ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.AccountID, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			e.Timestamp = parsed
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByEvent returns event counts keyed by event name.
func (s *Store) CountByEvent() (map[string]int, error) {
	rows, err := s.db.Query("SELECT event, COUNT(*) FROM pool_events GROUP BY event")
	if err != nil {
		return nil, fmt.Errorf("history: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var event string
		var count int
		if err := rows.Scan(&event, &count); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		counts[event] = count
	}
	return counts, rows.Err()
}

// Prune keeps only the newest keep events, returning how many were removed.
func (s *Store) Prune(keep int) (int, error) {
	res, err := s.db.Exec(
		"DELETE FROM pool_events WHERE id NOT IN (SELECT id FROM pool_events ORDER BY id DESC LIMIT ?)", keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	removed, _ := res.RowsAffected()
	return int(removed), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sink buffers events and writes them in the background so recording never
// blocks a pool operation. Events are dropped with a log line when the
// buffer is full.
type Sink struct {
	store  *Store
	events chan Event
	done   chan struct{}
}

// NewSink starts a background writer over the given store.
func NewSink(store *Store) *Sink {
	s := &Sink{
		store:  store,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues an event, never blocking.
func (s *Sink) Record(accountID, event, detail string) {
	select {
	case s.events <- Event{AccountID: accountID, Event: event, Detail: detail}:
	default:
		log.Printf("HISTORY: event buffer full, dropping event=%s account=%s", event, accountID)
	}
}

// Close drains buffered events and stops the writer.
func (s *Sink) Close() {
	close(s.events)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.events {
		if err := s.store.Record(e.AccountID, e.Event, e.Detail); err != nil {
			log.Printf("HISTORY: record failed event=%s account=%s err=%v", e.Event, e.AccountID, err)
		}
	}
}
