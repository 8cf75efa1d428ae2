// Package runlock keeps pipeline runs for the same app from overlapping.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("run already in progress")

// Locker hands out non-blocking, keyed locks. The returned release func is
// safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Redis is a Locker shared across processes. Each lock expires after TTL so
// a crashed holder cannot block runs forever.
type Redis struct {
	c      *redis.Client
	prefix string
	ttl    time.Duration
}

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedis(addr string, ttl time.Duration) *Redis {
	return NewRedisClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

func NewRedisClient(c *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Redis{c: c, prefix: "reviewpulse:lock:", ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := r.c.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, r.c, []string{r.prefix + key}, token).Err()
		})
	}, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.c.Close()
}

// New returns a Redis locker when addr is set, and a Local one otherwise.
func New(addr string, ttl time.Duration) Locker {
	if addr == "" {
		return NewLocal()
	}
	return NewRedis(addr, ttl)
}
