package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// TimestampStore maps file paths to their last-seen fingerprint
// (modification time in nanoseconds). It is the authority a session
// consults to decide whether a file changed.
type TimestampStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenTimestampStore opens (creating if needed) the timestamp store
// inside the storage root.
func OpenTimestampStore(root string) (*TimestampStore, error) {
	if err := EnsureRoot(root); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(root, "timestamps.db"))
	if err != nil {
		return nil, fmt.Errorf("open timestamp store: %w", err)
	}
	s := &TimestampStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize timestamp schema: %w", err)
	}
	return s, nil
}

func (s *TimestampStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS timestamps (
		path TEXT PRIMARY KEY,
		stamp INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored fingerprint for path, or (0, false) when the
// path has never been seen.
func (s *TimestampStore) Get(path string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stamp int64
	err := s.db.QueryRow("SELECT stamp FROM timestamps WHERE path = ?", path).Scan(&stamp)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query timestamp: %w", err)
	}
	return stamp, true, nil
}

// Set records the fingerprint for path, replacing any previous value.
func (s *TimestampStore) Set(path string, stamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO timestamps (path, stamp) VALUES (?, ?) ON CONFLICT(path) DO UPDATE SET stamp = excluded.stamp",
		path, stamp,
	)
	if err != nil {
		return fmt.Errorf("store timestamp: %w", err)
	}
	return nil
}

// Remove drops the fingerprint for path. Removing an unknown path is a
// no-op.
func (s *TimestampStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM timestamps WHERE path = ?", path); err != nil {
		return fmt.Errorf("remove timestamp: %w", err)
	}
	return nil
}

// ClearAll drops every stored fingerprint.
func (s *TimestampStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM timestamps"); err != nil {
		return fmt.Errorf("clear timestamps: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *TimestampStore) Close() error {
	return s.db.Close()
}
