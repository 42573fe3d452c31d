package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	ErrLocked    = errors.New("cache: lock held by another owner")
)

// Service defines cache operations interface. Values are stored as JSON except
// strings, which are stored verbatim.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// TryLock takes key for owner if free. It reports false when another owner holds it.
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Unlock releases key only if owner still holds it.
	Unlock(ctx context.Context, key, owner string) error
	Close() error
}

// Lock takes key for owner or returns ErrLocked.
func Lock(ctx context.Context, c Service, key, owner string, ttl time.Duration) error {
	ok, err := c.TryLock(ctx, key, owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	return nil
}
