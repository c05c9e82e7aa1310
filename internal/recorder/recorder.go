// Package recorder provides a SQLite-backed event history. Every event
// received over the session can be recorded and queried later by entity,
// type, and time window. Storage location: ~/.hearth/state/events.db.
package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one stored event.
type Record struct {
	ID        int64  `json:"id"`
	EventType string `json:"eventType"`
	EntityID  string `json:"entityId"`
	State     string `json:"state"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"createdAt"`
}

// Store is the event history engine.
type Store struct {
	dbPath string
	mu     sync.Mutex
	db     *sql.DB
}

// NewStore opens (creating if needed) the event database in dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recorder dir: %w", err)
	}
	s := &Store{dbPath: filepath.Join(dir, "events.db")}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return err
	}

	ddl := `
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_type TEXT NOT NULL DEFAULT '',
  entity_id TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);",
		"CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);",
	}
	for _, idx := range indices {
		_, _ = db.Exec(idx)
	}
	return nil
}

func (s *Store) openDB() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=busy_timeout%3d5000&_pragma=journal_mode%3dwal")
	if err != nil {
		return nil, fmt.Errorf("open events db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return db, nil
}

// Insert stores one event. The payload is kept as raw JSON text.
func (s *Store) Insert(eventType, entityID, state string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return err
	}

	_, err = db.Exec(
		`INSERT INTO events(event_type, entity_id, state, payload, created_at) VALUES(?,?,?,?,?)`,
		eventType, entityID, state, string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// QueryParams filter a history query.
type QueryParams struct {
	EntityID  string
	EventType string
	Since     string // RFC3339, inclusive
	Until     string // RFC3339, inclusive
	Limit     int
	Offset    int
}

// Query returns matching events, newest first, plus the total match count.
func (s *Store) Query(p QueryParams) ([]Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, 0, err
	}

	if p.Limit <= 0 {
		p.Limit = 100
	}

	var conditions []string
	var args []any
	if p.EntityID != "" {
		conditions = append(conditions, "entity_id=?")
		args = append(args, p.EntityID)
	}
	if p.EventType != "" {
		conditions = append(conditions, "event_type=?")
		args = append(args, p.EventType)
	}
	if p.Since != "" {
		conditions = append(conditions, "created_at>=?")
		args = append(args, p.Since)
	}
	if p.Until != "" {
		conditions = append(conditions, "created_at<=?")
		args = append(args, p.Until)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countArgs := make([]any, len(args))
	copy(countArgs, args)
	_ = db.QueryRow("SELECT COUNT(*) FROM events"+where, countArgs...).Scan(&total)

	query := "SELECT id, event_type, entity_id, state, payload, created_at FROM events" +
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, p.Limit, p.Offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.EventType, &r.EntityID, &r.State, &r.Payload, &r.CreatedAt); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, total, rows.Err()
}

// Cleanup removes records past the retention limits. Zero disables the
// respective limit.
func (s *Store) Cleanup(maxAgeDays, maxEvents int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return 0, err
	}

	var totalDeleted int64
	if maxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UTC().Format(time.RFC3339Nano)
		result, err := db.Exec("DELETE FROM events WHERE created_at < ?", cutoff)
		if err == nil {
			n, _ := result.RowsAffected()
			totalDeleted += n
		}
	}
	if maxEvents > 0 {
		result, err := db.Exec(
			"DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY created_at DESC, id DESC LIMIT ?)",
			maxEvents,
		)
		if err == nil {
			n, _ := result.RowsAffected()
			totalDeleted += n
		}
	}
	return totalDeleted, nil
}

// Count returns the total number of stored events.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return 0, err
	}
	var cnt int
	_ = db.QueryRow("SELECT COUNT(*) FROM events").Scan(&cnt)
	return cnt, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// DBPath returns the database file path.
func (s *Store) DBPath() string {
	return s.dbPath
}
