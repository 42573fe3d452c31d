package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"HistPull/pkg/cache"

	"github.com/google/uuid"
)

// RunLock marks a state file as owned by this process. A nil or local lock holds
// nothing and releasing it is a no-op.
type RunLock struct {
	c     cache.Service
	key   string
	owner string
	once  sync.Once
}

// AcquireRunLock takes the lock for statePath in c. It returns an error wrapping
// cache.ErrLocked when another owner holds it.
func AcquireRunLock(ctx context.Context, c cache.Service, statePath string, ttl time.Duration) (*RunLock, error) {
	host, _ := os.Hostname()
	l := &RunLock{
		c:     c,
		key:   RunLockKey(statePath),
		owner: fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()),
	}
	if err := cache.Lock(ctx, c, l.key, l.owner, ttl); err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return nil, fmt.Errorf("state %s is in use by another process: %w", statePath, err)
		}
		return nil, fmt.Errorf("run lock: %w", err)
	}
	return l, nil
}

// LocalRunLock returns a lock that excludes no one.
func LocalRunLock() *RunLock { return &RunLock{} }

// Held reports whether the lock is backed by a shared store.
func (l *RunLock) Held() bool { return l != nil && l.c != nil }

// Owner is the token stored under the lock key.
func (l *RunLock) Owner() string {
	if l == nil {
		return ""
	}
	return l.owner
}

// Release gives the lock back. Only the first call has an effect.
func (l *RunLock) Release(ctx context.Context) error {
	if !l.Held() {
		return nil
	}
	var err error
	l.once.Do(func() {
		err = l.c.Unlock(ctx, l.key, l.owner)
	})
	return err
}

// RunLockKey derives the lock key from the absolute state path.
func RunLockKey(statePath string) string {
	if abs, err := filepath.Abs(statePath); err == nil {
		statePath = abs
	}
	return "run:" + statePath
}
