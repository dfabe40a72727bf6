package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// LockFileName is created in the data directory while a run commits.
const LockFileName = ".ingest.lock"

// FileLock excludes concurrent ingestion processes on one data directory.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates the lock for dataDir.
func NewFileLock(dataDir string) *FileLock {
	path := filepath.Join(dataDir, LockFileName)
	return &FileLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. A lock held by another
// process is ERR_204_STORE_LOCKED.
func (l *FileLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return hrerrors.New(hrerrors.ErrCodeStoreLocked, "another ingestion holds the data directory", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the running ingest to finish")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }
