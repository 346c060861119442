// Package lock provides per-key mutual exclusion for trigger recording,
// either inside one process or across processes through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises work per key. Lock blocks until the key is held or ctx
// is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Keyed is an in-process Locker backed by one channel per key.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyed returns an empty in-process locker.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]chan struct{})}
}

func (k *Keyed) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

// Lock implements Locker.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrLockLost is returned by a Redis unlock whose token had expired.
var ErrLockLost = errors.New("lock: lease expired before release")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions parameterise the Redis locker.
type RedisOptions struct {
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL          time.Duration
	PollInterval time.Duration
}

// Redis is a Locker using SET NX PX leases with token-checked release.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.Prefix == "" {
		opts.Prefix = "ratewatch:lock:"
	}
	return &Redis{client: client, opts: opts}
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.opts.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", fullKey, err)
		}
		if ok {
			return func() { _ = r.release(fullKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

var (
	_ Locker = (*Keyed)(nil)
	_ Locker = (*Redis)(nil)
)
