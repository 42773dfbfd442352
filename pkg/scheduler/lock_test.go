package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerIsPerConnection(t *testing.T) {
	ctx := context.Background()
	l := newLocalLocker()

	unlock1, err := l.TryLock(ctx, 1)
	require.NoError(t, err)
	_, err = l.TryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrBusy)

	unlock2, err := l.TryLock(ctx, 2)
	require.NoError(t, err, "other connections are independent")

	require.NoError(t, unlock1(ctx))
	again, err := l.TryLock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
	require.NoError(t, unlock2(ctx))
}

type refusingLocker struct{ err error }

func (r refusingLocker) TryLock(context.Context, uint) (Unlock, error) { return nil, r.err }

func TestChainReleasesHeldLocksOnFailure(t *testing.T) {
	ctx := context.Background()
	local := newLocalLocker()
	boom := errors.New("redis down")

	_, err := chain{local, refusingLocker{err: boom}}.TryLock(ctx, 7)
	assert.ErrorIs(t, err, boom)

	unlock, err := local.TryLock(ctx, 7)
	require.NoError(t, err, "the local lock was released after the second lock failed")
	require.NoError(t, unlock(ctx))
}
