// Package storage provides the persisted stores backing incremental
// builds: the per-file timestamp store and the dependency data manager,
// both kept under a per-project storage root.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FSStateFileName is the persisted filesystem-state file inside a
// storage root.
const FSStateFileName = "fs_state.dat"

// RootFor derives the storage root directory for a project path under
// the given base data directory.
func RootFor(dataDir, projectPath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(projectPath)))
	name := filepath.Base(filepath.Clean(projectPath)) + "-" + hex.EncodeToString(sum[:8])
	return filepath.Join(dataDir, name)
}

// EnsureRoot creates the storage root if it does not exist.
func EnsureRoot(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	return nil
}

// DeleteRoot removes the entire storage root. Used to recover from
// corrupt or version-incompatible persisted state.
func DeleteRoot(root string) error {
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("delete storage root: %w", err)
	}
	return nil
}
