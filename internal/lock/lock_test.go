package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludesUntilRelease(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "saldo:rollover:2024-01-02", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "saldo:rollover:2024-01-02", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.TryLock(ctx, "saldo:rollover:2024-01-03", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = l.TryLock(ctx, "saldo:rollover:2024-01-02", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerExpiredHoldIsNotReleasedByOldOwner(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	staleRelease, ok, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, staleRelease(ctx))
	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
