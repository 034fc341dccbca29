// Package sqlite is the Manifest Store of spec.md §4.1, backed by SQLite in
// WAL mode. Grounded on AntoineToussaint-timeoff's store/sqlite.Store: a
// single *sql.DB guarded by a sync.RWMutex, schema applied once at New(),
// multi-row mutations wrapped in a database/sql transaction.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements repository.ManifestStore.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if absent) a SQLite database at path and applies the
// schema. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite allows only one writer; a single connection avoids
	// "database is locked" under our own mutex discipline.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// Close waits for any transaction currently holding the write/read lock to
// finish before closing the underlying connection, so a shutdown race can
// never close the database out from under an in-flight AcquireLease or
// ApplySliceResult call.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
