package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward while the key holds our token
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a distributed Locker for deployments with several workers
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder can
// keep a key locked. Live holders renew the key every ttl/3.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Lock polls SET NX until the key is acquired or ctx is done
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		keepAlive(renewCtx, r.ttl/3, func(ctx context.Context) (bool, error) {
			n, err := extendScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int64()
			return n == 1, err
		}, log.WithField("key", key))
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenew()
			<-renewed

			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{key}, token).Err(); err != nil {
				log.WithError(err).WithField("key", key).Warn("failed to release lock")
			}
		})
	}, nil
}

// keepAlive calls extend every interval until ctx ends or the key is lost
func keepAlive(ctx context.Context, interval time.Duration, extend func(context.Context) (bool, error), entry *log.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, interval)
		held, err := extend(callCtx)
		cancel()

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			entry.WithError(err).Warn("failed to renew lock")
		case !held:
			entry.Error("lock lost before release")
			return
		}
	}
}
