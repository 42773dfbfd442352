//go:build integration

package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisLockerAcrossProcesses(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	a, err := NewRedisLocker(ctx, url, time.Minute)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisLocker(ctx, url, time.Minute)
	require.NoError(t, err)
	defer b.Close()

	unlock, err := a.TryLock(ctx, 1)
	require.NoError(t, err)

	_, err = b.TryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrBusy)

	other, err := b.TryLock(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	relock, err := b.TryLock(ctx, 1)
	require.NoError(t, err)

	// A stale unlock from a must not free b's lock.
	require.NoError(t, unlock(ctx))
	_, err = a.TryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrBusy)
	require.NoError(t, relock(ctx))
}

func TestRedisLockExpires(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	l, err := NewRedisLocker(ctx, url, time.Second)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.TryLock(ctx, 3)
	require.NoError(t, err)
	time.Sleep(1500 * time.Millisecond)

	unlock, err := l.TryLock(ctx, 3)
	require.NoError(t, err, "a crashed holder's lock expires")
	require.NoError(t, unlock(ctx))
}
