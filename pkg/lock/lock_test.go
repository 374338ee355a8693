package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements SET NX and the release script over a map.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestKey(t *testing.T) {
	if got := Key("API.Example.com"); got != "mailsync:lock:api.example.com" {
		t.Errorf("Key() = %q", got)
	}
}

func TestNopLocker(t *testing.T) {
	var l Locker = NopLocker{}
	for range 2 {
		release, err := l.Acquire(context.Background(), "k")
		if err != nil {
			t.Fatal(err)
		}
		if err := release(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRedisLocker_Contention(t *testing.T) {
	fake := newFakeRedis()
	l := newRedisLocker(fake, time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "mailsync:lock:a")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if fake.ttls["mailsync:lock:a"] != time.Minute {
		t.Errorf("ttl = %v", fake.ttls["mailsync:lock:a"])
	}

	if _, err := l.Acquire(ctx, "mailsync:lock:a"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrLocked", err)
	}
	if _, err := l.Acquire(ctx, "mailsync:lock:b"); err != nil {
		t.Errorf("other key should be free: %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release error = %v", err)
	}
	if _, err := l.Acquire(ctx, "mailsync:lock:a"); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	fake := newFakeRedis()
	l := newRedisLocker(fake, 0)
	ctx := context.Background()

	staleRelease, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if fake.ttls["k"] != DefaultTTL {
		t.Errorf("ttl = %v, want default", fake.ttls["k"])
	}

	// Simulate expiry and a new holder.
	delete(fake.values, "k")
	if _, err := l.Acquire(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	if err := staleRelease(ctx); err != nil {
		t.Fatal(err)
	}
	if _, held := fake.values["k"]; !held {
		t.Error("stale release removed the new holder's lock")
	}
}

func TestRedisLocker_Error(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")

	_, err := newRedisLocker(fake, time.Minute).Acquire(context.Background(), "k")
	if err == nil || errors.Is(err, ErrLocked) {
		t.Errorf("Acquire() error = %v, want a connection error", err)
	}
}

// TestRedisLocker_Live runs against a real server when MAILSYNC_TEST_REDIS_ADDR is set.
func TestRedisLocker_Live(t *testing.T) {
	addr := os.Getenv("MAILSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MAILSYNC_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	l, rdb, err := NewRedisLocker(ctx, addr, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer rdb.Close()

	key := Key("live-test." + time.Now().Format("150405.000"))
	release, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, key); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire() error = %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatal(err)
	}
	if n := rdb.Exists(ctx, key).Val(); n != 0 {
		t.Errorf("key still exists after release")
	}
}
