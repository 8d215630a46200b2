package cache

import (
	"context"
	"errors"
	"time"

	"runhub/internal/breaker"

	"github.com/redis/go-redis/v9"
)

// UpstreamRemoteCache is the breaker name for the redis tier.
const UpstreamRemoteCache = "remote-cache"

// RemoteCache is the optional redis-backed tier. Every call goes through
// the tier's circuit breaker; a sustained-open breaker effectively demotes
// the cache to memory-only.
type RemoteCache struct {
	client  *redis.Client
	breaker *breaker.Breaker
}

// RemoteOptions configures the redis connection.
type RemoteOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRemoteCache connects the redis tier. The connection is lazy; the
// first call through the breaker surfaces connectivity failures.
func NewRemoteCache(opts RemoteOptions, b *breaker.Breaker) *RemoteCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RemoteCache{client: client, breaker: b}
}

// Get fetches key from redis through the breaker. A missing key is not an
// error: ok is false and err is nil.
func (r *RemoteCache) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	err = r.breaker.Do(ctx, func(ctx context.Context) error {
		data, getErr := r.client.Get(ctx, key).Bytes()
		if getErr != nil {
			if errors.Is(getErr, redis.Nil) {
				return nil
			}
			return breaker.MarkTransient(getErr)
		}
		value = data
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, ok, nil
}

// Set stores key in redis through the breaker.
func (r *RemoteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.breaker.Do(ctx, func(ctx context.Context) error {
		if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
			return breaker.MarkTransient(err)
		}
		return nil
	})
}

// Ping probes the redis connection through the breaker.
func (r *RemoteCache) Ping(ctx context.Context) error {
	return r.breaker.Do(ctx, func(ctx context.Context) error {
		if err := r.client.Ping(ctx).Err(); err != nil {
			return breaker.MarkTransient(err)
		}
		return nil
	})
}

// BreakerState reports the remote tier's breaker state.
func (r *RemoteCache) BreakerState() string {
	return r.breaker.State()
}

// Close releases the redis connection.
func (r *RemoteCache) Close() error {
	return r.client.Close()
}
