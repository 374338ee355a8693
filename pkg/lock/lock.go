package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed run can hold the lock.
const DefaultTTL = 10 * time.Minute

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another apply is in progress")

// ReleaseFunc releases an acquired lock.
type ReleaseFunc func(ctx context.Context) error

// Locker serializes apply runs against one remote.
type Locker interface {
	Acquire(ctx context.Context, key string) (ReleaseFunc, error)
}

// Key returns the lock key for a remote host.
func Key(host string) string {
	return "mailsync:lock:" + strings.ToLower(host)
}

// NopLocker never blocks. It is used when no redis address is configured.
type NopLocker struct{}

// Acquire always succeeds.
func (NopLocker) Acquire(context.Context, string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// client is the subset of the redis client used by RedisLocker.
type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only if it still holds our token, so a run
// whose lock expired cannot release the lock of the next run.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker holds the lock as a redis key with a random token and a TTL.
type RedisLocker struct {
	client client
	ttl    time.Duration
}

// NewRedisLocker connects to addr. The connection is verified with PING.
func NewRedisLocker(ctx context.Context, addr string, ttl time.Duration) (*RedisLocker, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis unavailable at %s: %w", addr, err)
	}

	return newRedisLocker(rdb, ttl), rdb, nil
}

func newRedisLocker(c client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: c, ttl: ttl}
}

// Acquire takes the lock or fails with ErrLocked without waiting.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, key)
	}

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("releasing lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
