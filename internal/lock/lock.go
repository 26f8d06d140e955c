// Package lock serializes operations that write into the same bundle root.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside a bundle root.
const FileName = ".sbu.lock"

type Lock struct {
	file *flock.Flock
}

// Acquire obtains a filesystem lock to prevent overlapping operations.
// An empty path falls back to a lock in the temp directory.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "sbu.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another operation holds the lock %s", path)
	}
	return &Lock{file: lock}, nil
}

// ForRoot locks a bundle root directory.
func ForRoot(root string) (*Lock, error) {
	return Acquire(filepath.Join(root, FileName))
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
