package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/matzehuels/pkgrestore/pkg/cache"
)

// ErrLockTimeout is returned when an install lock could not be acquired
// within the configured timeout on every attempt.
var ErrLockTimeout = errors.New("install lock timeout")

// lockPollInterval is how often a waiting process retries the lock.
const lockPollInterval = 25 * time.Millisecond

// DefaultLockDir returns the directory for install locks shared by all
// pkgrestore processes of a machine.
func DefaultLockDir() string {
	return filepath.Join(os.TempDir(), "pkgrestore-locks")
}

// lockPath maps a target directory to its lock file. The path is cleaned,
// made absolute and lowercased so that every process agrees on the name.
func lockPath(lockDir, target string) string {
	if abs, err := filepath.Abs(target); err == nil {
		target = abs
	}
	normalized := strings.ToLower(filepath.Clean(target))
	return filepath.Join(lockDir, cache.Hash([]byte(normalized))+".lock")
}

// fileLock is an exclusive advisory lock on a file. The kernel drops it when
// the descriptor is closed, including when the process dies.
type fileLock struct {
	fl *flock.Flock
}

// acquire waits up to timeout for the lock. It returns ok=false on timeout
// and the context error if ctx ends first.
func acquire(ctx context.Context, path string, timeout time.Duration) (*fileLock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)

	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := fl.TryLockContext(lctx, lockPollInterval)
	if ok {
		return &fileLock{fl: fl}, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, false, fmt.Errorf("lock %s: %w", path, err)
	}
	return nil, false, nil
}

// release unlocks and closes the lock file. The zero-byte file stays behind
// for the next holder.
func (l *fileLock) release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	return err
}
