package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func exerciseExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), Key(1, 1))
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("%d goroutines held the lock at once", maxInside)
	}
}

func TestLocalExcludesSameKey(t *testing.T) {
	l := NewLocal()
	exerciseExclusion(t, l)
	if n := l.size(); n != 0 {
		t.Fatalf("%d entries leaked", n)
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), Key(1, 1))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := l.Lock(ctx, Key(1, 2))
	if err != nil {
		t.Fatalf("other identity blocked: %v", err)
	}
	other()
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "k")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	unlock()
	unlock()
	if n := l.size(); n != 0 {
		t.Fatalf("%d entries leaked", n)
	}
}

func TestRedisExcludesSameKey(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	defer cli.Close()
	exerciseExclusion(t, NewRedis(cli, 5*time.Second))
}

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, time.Millisecond, func() (bool, error) {
			calls.Add(1)
			return true, nil
		}, "k")
	}()
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(stop)
	<-done
	if calls.Load() < 3 {
		t.Fatalf("extend ran %d times", calls.Load())
	}
}

func TestKeepAliveStopsWhenOwnershipLost(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(make(chan struct{}), time.Millisecond, func() (bool, error) {
			if calls.Add(1) == 1 {
				return false, errors.New("connection reset")
			}
			return false, nil
		}, "k")
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive kept running after the key was lost")
	}
	if calls.Load() != 2 {
		t.Fatalf("extend ran %d times, want 2", calls.Load())
	}
}

func TestRedisHoldsLockPastTTL(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	defer cli.Close()
	l := NewRedis(cli, 150*time.Millisecond)
	key := Key(11, 22)
	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	ok, err := cli.SetNX(context.Background(), redisLockPrefix+key, "intruder", time.Second).Result()
	if err != nil {
		t.Fatalf("setnx: %v", err)
	}
	if ok {
		t.Fatal("lock expired while still held")
	}
	unlock()
	if n, _ := cli.Exists(context.Background(), redisLockPrefix+key).Result(); n != 0 {
		t.Fatalf("key survived unlock")
	}
}
