package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "alert:1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestKeyedMutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewKeyed())
}

func TestKeyedRespectsContext(t *testing.T) {
	k := NewKeyed()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	// other keys are independent
	unlockB, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisMutualExclusion(t *testing.T) {
	_, client := newRedis(t)
	exerciseMutualExclusion(t, NewRedis(client, RedisOptions{PollInterval: time.Millisecond}))
}

func TestRedisReleaseOnlyOwnLease(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedis(client, RedisOptions{TTL: time.Second})

	unlock, err := l.Lock(context.Background(), "alert:9")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ratewatch:lock:alert:9"))

	// lease expires and someone else takes it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("ratewatch:lock:alert:9", "other"))

	unlock()
	got, err := mr.Get("ratewatch:lock:alert:9")
	require.NoError(t, err)
	assert.Equal(t, "other", got)

	assert.ErrorIs(t, l.release("ratewatch:lock:alert:9", "stale"), ErrLockLost)
}

func TestRedisLockTimesOut(t *testing.T) {
	_, client := newRedis(t)
	l := NewRedis(client, RedisOptions{PollInterval: 5 * time.Millisecond})

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.Error(t, err)
}
