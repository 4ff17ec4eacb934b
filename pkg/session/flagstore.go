package session

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryFlagStore is an in-memory flag store for tests and for hosts that
// accept losing the recovery flag on restart (which disables the
// restart-loop guard; not recommended outside tests).
type MemoryFlagStore struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryFlagStore creates an empty in-memory flag store
func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{m: make(map[string]string)}
}

func (s *MemoryFlagStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryFlagStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// SQLiteFlagStore persists session-scoped flags in a local SQLite file so
// they survive the exec reload. Rows are keyed by (session_id, key);
// opening a store for a new session deletes every row belonging to other
// sessions, which is what ends the previous session's flags.
type SQLiteFlagStore struct {
	db        *sql.DB
	sessionID string
	mu        sync.Mutex
}

// NewSQLiteFlagStore opens (or creates) the flag database at dbPath and
// scopes it to sessionID. When fresh is true, flags of all other sessions
// are wiped.
func NewSQLiteFlagStore(dbPath, sessionID string, fresh bool) (*SQLiteFlagStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open flag database: %w", err)
	}

	// Single writer; the loader performs one scalar read and at most one
	// write per process lifetime, so contention is not a concern.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	schema := `
	CREATE TABLE IF NOT EXISTS session_flags (
		session_id TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, key)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize flag schema: %w", err)
	}

	s := &SQLiteFlagStore{db: db, sessionID: sessionID}
	if fresh {
		if _, err := db.Exec(`DELETE FROM session_flags WHERE session_id != ?`, sessionID); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to clear stale sessions: %w", err)
		}
	}
	return s, nil
}

func (s *SQLiteFlagStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(
		`SELECT value FROM session_flags WHERE session_id = ? AND key = ?`,
		s.sessionID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read flag %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteFlagStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO session_flags (session_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.sessionID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write flag %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteFlagStore) Close() error {
	return s.db.Close()
}
