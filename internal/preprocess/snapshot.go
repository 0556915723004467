package preprocess

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Snapshot records the entries present in a directory before a step runs.
type Snapshot struct {
	dir     string
	entries map[string]struct{}
}

// SnapshotDir captures the top-level entries of dir. A missing directory is
// treated as empty.
func SnapshotDir(dir string) (Snapshot, error) {
	snap := Snapshot{dir: dir, entries: map[string]struct{}{}}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	for _, entry := range entries {
		snap.entries[entry.Name()] = struct{}{}
	}
	return snap, nil
}

// RemoveNew deletes entries created since the snapshot and returns their
// names.
func (s Snapshot) RemoveNew() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.dir, err)
	}
	var removed []string
	var errs []error
	for _, entry := range entries {
		if _, ok := s.entries[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, entry.Name())
	}
	return removed, errors.Join(errs...)
}
