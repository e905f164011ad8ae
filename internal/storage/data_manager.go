package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// FormatVersion is the current on-disk format of the dependency cache.
// Bumping it forces a full project rebuild on the next session.
const FormatVersion = 3

// DataManager owns the persisted incremental-dependency cache. Beyond
// the version contract the cache contents are opaque to the session.
type DataManager struct {
	db            *sql.DB
	mu            sync.Mutex
	inMemoryDelta bool
	storedVersion int64
}

// OpenDataManager opens (creating if needed) the dependency cache inside
// the storage root. inMemoryDelta selects an in-memory journal for the
// per-build delta instead of an on-disk one.
func OpenDataManager(root string, inMemoryDelta bool) (*DataManager, error) {
	if err := EnsureRoot(root); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(root, "deps.db"))
	if err != nil {
		return nil, fmt.Errorf("open dependency cache: %w", err)
	}
	m := &DataManager{db: db, inMemoryDelta: inMemoryDelta}
	if err := m.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize dependency cache: %w", err)
	}
	return m, nil
}

func (m *DataManager) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dependencies (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		PRIMARY KEY (source, target)
	);
	CREATE INDEX IF NOT EXISTS idx_dep_target ON dependencies(target);
	`
	if _, err := m.db.Exec(schema); err != nil {
		return err
	}
	if m.inMemoryDelta {
		if _, err := m.db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
			return err
		}
	}

	var stored int64
	err := m.db.QueryRow("SELECT value FROM meta WHERE key = 'format_version'").Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// fresh or unversioned cache; counts as differing so the first
		// session forces a full rebuild and stamps it via ClearAll
		m.storedVersion = 0
	case err != nil:
		return err
	default:
		m.storedVersion = stored
	}
	return nil
}

// StoredVersion returns the format version the persisted cache was
// written with, zero for a fresh cache.
func (m *DataManager) StoredVersion() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storedVersion
}

// VersionDiffers reports whether the persisted cache was written by a
// different format version. Callers treat a differing version as corrupt
// state requiring a full rebuild.
func (m *DataManager) VersionDiffers() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storedVersion != FormatVersion
}

// ClearAll wipes the dependency cache and restamps the current format
// version.
func (m *DataManager) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.Exec("DELETE FROM dependencies"); err != nil {
		return fmt.Errorf("clear dependency cache: %w", err)
	}
	if _, err := m.db.Exec("INSERT INTO meta (key, value) VALUES ('format_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", FormatVersion); err != nil {
		return fmt.Errorf("stamp format version: %w", err)
	}
	m.storedVersion = FormatVersion
	return nil
}

// Close releases the underlying database.
func (m *DataManager) Close() error {
	return m.db.Close()
}
