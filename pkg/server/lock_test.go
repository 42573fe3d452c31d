package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"HistPull/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRunLock_ExcludesSecondOwner(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	path := filepath.Join(t.TempDir(), "tasks.json")

	first, err := AcquireRunLock(ctx, mc, path, time.Hour)
	require.NoError(t, err)
	assert.True(t, first.Held())
	assert.NotEmpty(t, first.Owner())

	second, err := AcquireRunLock(ctx, mc, path, time.Hour)
	assert.ErrorIs(t, err, cache.ErrLocked)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	third, err := AcquireRunLock(ctx, mc, path, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first.Owner(), third.Owner())
}

func TestAcquireRunLock_ReleaseKeepsOtherOwnersLock(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	path := filepath.Join(t.TempDir(), "tasks.json")

	stale, err := AcquireRunLock(ctx, mc, path, time.Hour)
	require.NoError(t, err)
	// Another process took over after the stale owner's key was dropped.
	require.NoError(t, mc.Delete(ctx, RunLockKey(path)))
	require.NoError(t, cache.Lock(ctx, mc, RunLockKey(path), "other", time.Hour))

	assert.ErrorIs(t, stale.Release(ctx), cache.ErrLocked)

	_, err = AcquireRunLock(ctx, mc, path, time.Hour)
	assert.ErrorIs(t, err, cache.ErrLocked)
}

func TestLocalRunLock_HoldsNothing(t *testing.T) {
	l := LocalRunLock()
	assert.False(t, l.Held())
	assert.NoError(t, l.Release(context.Background()))

	var nilLock *RunLock
	assert.False(t, nilLock.Held())
	assert.Empty(t, nilLock.Owner())
	assert.NoError(t, nilLock.Release(context.Background()))
}

func TestRunLockKey_IsAbsolute(t *testing.T) {
	key := RunLockKey("data/state/tasks.json")
	require.True(t, len(key) > len("run:"))
	assert.True(t, filepath.IsAbs(key[len("run:"):]))
	assert.Equal(t, key, RunLockKey("./data/state/../state/tasks.json"))
}
