package runlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "ios:1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "ios:1"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	other, err := l.Acquire(ctx, "android:1")
	if err != nil {
		t.Errorf("different key should not be blocked: %v", err)
	} else {
		other()
	}

	release()
	release()

	again, err := l.Acquire(ctx, "ios:1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal())
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisClient(client, time.Minute), mr
}

func TestRedis(t *testing.T) {
	r, _ := newTestRedis(t)
	exerciseLocker(t, r)
}

func TestRedisLockExpires(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	if _, err := r.Acquire(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("reviewpulse:lock:k"); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := r.Acquire(ctx, "k"); err != nil {
		t.Errorf("expected expired lock to be free: %v", err)
	}
}

func TestRedisReleaseKeepsForeignLock(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	release, err := r.Acquire(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	// Lock expired and was taken by someone else.
	mr.FastForward(2 * time.Minute)
	if _, err := r.Acquire(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	release()
	if !mr.Exists("reviewpulse:lock:k") {
		t.Error("stale release deleted another holder's lock")
	}
}

func TestRedisUnavailable(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()
	if _, err := r.Acquire(context.Background(), "k"); err == nil || errors.Is(err, ErrLocked) {
		t.Errorf("expected connection error, got %v", err)
	}
}

func TestNewPicksImplementation(t *testing.T) {
	if _, ok := New("", 0).(*Local); !ok {
		t.Error("expected Local locker without address")
	}
	if _, ok := New("localhost:6379", 0).(*Redis); !ok {
		t.Error("expected Redis locker with address")
	}
}
