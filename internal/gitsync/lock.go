package gitsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/gray247/gitbridge/internal/metrics"
)

// lockFile lives inside .git so it is valid across processes but never
// part of the tracked content.
const lockFile = "gitbridge.lock"

const lockPollInterval = 100 * time.Millisecond

// acquireLock takes the exclusive mutation lock for the working copy,
// waiting up to the configured timeout. It returns a release function
// that the caller must invoke on every exit path; deferring it directly
// after a successful acquire gives scoped-acquisition semantics.
func (s *Synchronizer) acquireLock(ctx context.Context) (func(), error) {
	path := filepath.Join(s.path, ".git", lockFile)
	fl := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	locked, err := fl.TryLockContext(lockCtx, lockPollInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		// Not a timeout: the lock file itself is broken (permissions,
		// wrong file type, cancelled request). Retrying cannot help.
		return nil, fmt.Errorf("acquire repository lock %s: %w", path, err)
	}
	if err != nil || !locked {
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, path, time.Since(start).Round(time.Millisecond))
	}
	metrics.LockWaited(time.Since(start))

	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.Errorf("failed to release repository lock %s: %v", path, err)
		}
	}, nil
}
