package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/netutil"
)

const redisLockPrefix = "chainbot:lock:"

// ErrLockTimeout is returned when the key stays held past the wait budget.
var ErrLockTimeout = errors.New("lock: timed out waiting for identity lock")

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

var luaExtend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Redis is a Locker shared by several bot instances. Each holder owns the key
// through a random token so an expired holder cannot release a successor's
// lock. While held, the key's TTL is extended every third of the TTL, so a
// slow handler keeps the lock until it unlocks and only a crashed holder lets
// it expire.
type Redis struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedis returns a distributed locker. ttl bounds how long a crashed holder
// keeps the key and how long Lock waits for it.
func NewRedis(cli *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{cli: cli, ttl: ttl}
}

// Lock polls SET NX until it wins, ctx is done, or ttl elapses.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := redisLockPrefix + key
	deadline := time.Now().Add(l.ttl)
	for attempt := 1; ; attempt++ {
		ok, err := l.cli.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		if err := netutil.Sleep(ctx, netutil.Backoff(attempt, 10*time.Millisecond, 200*time.Millisecond)); err != nil {
			return nil, err
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, l.ttl/3, func() (bool, error) {
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			defer cancel()
			n, err := luaExtend.Run(ctx, l.cli, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
			return n == 1, err
		}, key)
	}()

	return func() {
		close(stop)
		<-done
		// Release even when the request context is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := luaUnlock.Run(ctx, l.cli, []string{redisKey}, token).Err(); err != nil {
			logger.State.Warn("lock release failed",
				slog.String("event", "lock.release"),
				slog.String("status", "fail"),
				slog.String("key", key),
				slog.String("err", err.Error()),
			)
		}
	}, nil
}

// keepAlive calls extend every interval until stop is closed. It gives up once
// extend reports the key is no longer ours; a failed call is retried on the
// next tick.
func keepAlive(stop <-chan struct{}, interval time.Duration, extend func() (bool, error), key string) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		owned, err := extend()
		switch {
		case err != nil:
			logger.State.Warn("lock extend failed",
				slog.String("event", "lock.extend"),
				slog.String("status", "retry"),
				slog.String("key", key),
				slog.String("err", err.Error()),
			)
		case !owned:
			logger.State.Warn("lock lost",
				slog.String("event", "lock.extend"),
				slog.String("status", "fail"),
				slog.String("key", key),
			)
			return
		}
	}
}
