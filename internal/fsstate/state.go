// Package fsstate tracks the dirty and deleted files of a project across
// build sessions. The state is keyed by module and survives restarts via
// Save/Load; the session layer owns the surrounding ordinal header.
package fsstate

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"git.home.luguber.info/inful/buildforge/internal/project"
)

// Stamps is the fingerprint store consulted while mutating state.
// *storage.TimestampStore satisfies it.
type Stamps interface {
	Set(path string, stamp int64) error
	Remove(path string) error
}

// DirtyRecord describes one file marked dirty within its owning root.
type DirtyRecord struct {
	Path       string `json:"path"`
	Root       string `json:"root"`
	IsTestRoot bool   `json:"is_test_root"`
}

// State is the in-memory dirty/deleted bookkeeping. A path is never
// simultaneously dirty and deleted.
type State struct {
	mu      sync.Mutex
	dirty   map[string]map[string]DirtyRecord // module -> path -> record
	deleted map[string]map[string]struct{}    // module -> path set
}

// New creates an empty state.
func New() *State {
	return &State{
		dirty:   make(map[string]map[string]DirtyRecord),
		deleted: make(map[string]map[string]struct{}),
	}
}

// MarkDirty records path as changed within rd's module and refreshes its
// fingerprint. Any pending deletion of the same path is dropped.
func (s *State) MarkDirty(path string, rd *project.RootDescriptor, stamps Stamps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.deleted[rd.Module]; ok {
		delete(set, path)
	}
	m, ok := s.dirty[rd.Module]
	if !ok {
		m = make(map[string]DirtyRecord)
		s.dirty[rd.Module] = m
	}
	m[path] = DirtyRecord{Path: path, Root: rd.Root, IsTestRoot: rd.IsTestRoot}

	if stamps != nil {
		if info, err := os.Stat(path); err == nil {
			if err := stamps.Set(path, info.ModTime().UnixNano()); err != nil {
				return fmt.Errorf("update fingerprint for %s: %w", path, err)
			}
		} else {
			// file vanished between event and apply; forget its stamp
			if err := stamps.Remove(path); err != nil {
				return fmt.Errorf("drop fingerprint for %s: %w", path, err)
			}
		}
	}
	return nil
}

// RegisterDeleted records path as deleted from module and forgets its
// fingerprint. Any pending dirty mark of the same path is dropped.
func (s *State) RegisterDeleted(module, path string, isTestRoot bool, stamps Stamps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.dirty[module]; ok {
		delete(m, path)
	}
	set, ok := s.deleted[module]
	if !ok {
		set = make(map[string]struct{})
		s.deleted[module] = set
	}
	set[path] = struct{}{}

	if stamps != nil {
		if err := stamps.Remove(path); err != nil {
			return fmt.Errorf("drop fingerprint for %s: %w", path, err)
		}
	}
	return nil
}

// ClearAll drops every dirty and deleted record.
func (s *State) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = make(map[string]map[string]DirtyRecord)
	s.deleted = make(map[string]map[string]struct{})
}

// DirtyFiles returns the dirty records of a module, sorted by path.
func (s *State) DirtyFiles(module string) []DirtyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]DirtyRecord, 0, len(s.dirty[module]))
	for _, rec := range s.dirty[module] {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records
}

// DeletedFiles returns the deleted paths of a module, sorted.
func (s *State) DeletedFiles(module string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.deleted[module]))
	for p := range s.deleted[module] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IsDirty reports whether path is marked dirty in module.
func (s *State) IsDirty(module, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirty[module][path]
	return ok
}

// IsDeleted reports whether path is marked deleted in module.
func (s *State) IsDeleted(module, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deleted[module][path]
	return ok
}

// snapshot mirrors the serialized shape.
type snapshot struct {
	Dirty   map[string][]DirtyRecord `json:"dirty"`
	Deleted map[string][]string      `json:"deleted"`
}

// Save writes the state blob to w.
func (s *State) Save(w io.Writer) error {
	s.mu.Lock()
	snap := snapshot{
		Dirty:   make(map[string][]DirtyRecord, len(s.dirty)),
		Deleted: make(map[string][]string, len(s.deleted)),
	}
	for module, files := range s.dirty {
		records := make([]DirtyRecord, 0, len(files))
		for _, rec := range files {
			records = append(records, rec)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
		snap.Dirty[module] = records
	}
	for module, set := range s.deleted {
		paths := make([]string, 0, len(set))
		for p := range set {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		snap.Deleted[module] = paths
	}
	s.mu.Unlock()

	if err := json.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("encode fs state: %w", err)
	}
	return nil
}

// Load replaces the state with the blob read from r.
func (s *State) Load(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode fs state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = make(map[string]map[string]DirtyRecord, len(snap.Dirty))
	for module, records := range snap.Dirty {
		m := make(map[string]DirtyRecord, len(records))
		for _, rec := range records {
			m[rec.Path] = rec
		}
		s.dirty[module] = m
	}
	s.deleted = make(map[string]map[string]struct{}, len(snap.Deleted))
	for module, paths := range snap.Deleted {
		set := make(map[string]struct{}, len(paths))
		for _, p := range paths {
			set[p] = struct{}{}
		}
		s.deleted[module] = set
	}
	return nil
}
