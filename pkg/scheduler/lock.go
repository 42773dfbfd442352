// pkg/scheduler/lock.go

package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy means another pass for the same connection holds the lock.
var ErrBusy = errors.New("sync already running for this connection")

// ErrInactive rejects a manual sync of an inactive or deleted connection.
var ErrInactive = errors.New("connection is inactive or deleted")

// Unlock releases a lock taken by a Locker.
type Unlock func(ctx context.Context) error

// Locker serializes passes of one connection. TryLock never waits: a
// connection that is already syncing is skipped until the next signal.
type Locker interface {
	TryLock(ctx context.Context, connection uint) (Unlock, error)
}

// localLocker serializes passes inside one process.
type localLocker struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[uint]*sync.Mutex)}
}

func (l *localLocker) TryLock(_ context.Context, connection uint) (Unlock, error) {
	l.mu.Lock()
	m, ok := l.locks[connection]
	if !ok {
		m = &sync.Mutex{}
		l.locks[connection] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, ErrBusy
	}
	return func(context.Context) error {
		m.Unlock()
		return nil
	}, nil
}

// DefaultLockTTL bounds how long a crashed holder blocks a connection.
const DefaultLockTTL = 30 * time.Minute

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes passes across processes sharing one store.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisLocker parses a redis:// URL and checks the server is reachable.
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, cerr.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, cerr.Wrapf(err, "ping redis at %s", opts.Addr)
	}
	return NewRedisLockerFromClient(client, ttl), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "delphi-sync:lock:connection:"}
}

func (r *RedisLocker) key(connection uint) string {
	return r.prefix + strconv.FormatUint(uint64(connection), 10)
}

func (r *RedisLocker) TryLock(ctx context.Context, connection uint) (Unlock, error) {
	key, token := r.key(connection), uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, cerr.Wrapf(err, "acquire %s", key)
	}
	if !ok {
		return nil, ErrBusy
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return cerr.Wrapf(err, "release %s", key)
		}
		return nil
	}, nil
}

// Close closes the underlying client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

// chain takes every lock in order and releases them in reverse.
type chain []Locker

func (c chain) TryLock(ctx context.Context, connection uint) (Unlock, error) {
	var held []Unlock
	release := func(ctx context.Context) error {
		var first error
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](ctx); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	for _, l := range c {
		u, err := l.TryLock(ctx, connection)
		if err != nil {
			_ = release(ctx)
			return nil, err
		}
		held = append(held, u)
	}
	return release, nil
}
