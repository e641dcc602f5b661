package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no workspace marker exists between the
// start directory and the filesystem root.
var ErrNotFound = errors.New("workspace: no workspace found")

// Find walks up from startDir looking for the workspace marker directory
// and returns the workspace root containing it.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve start dir: %w", err)
	}

	for {
		marker := filepath.Join(dir, MarkerDirName)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Init creates the marker directory inside root, making root a
// workspace. It is idempotent.
func Init(root string) (string, error) {
	marker := filepath.Join(root, MarkerDirName)
	if err := os.MkdirAll(marker, 0o700); err != nil {
		return "", fmt.Errorf("workspace: create marker dir: %w", err)
	}
	return marker, nil
}

// MarkerDir returns the marker directory path for a workspace root.
func MarkerDir(root string) string {
	return filepath.Join(root, MarkerDirName)
}
