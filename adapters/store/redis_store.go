package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/redis/go-redis/v9"
)

const (
	defaultOpTimeout   = 2 * time.Second
	defaultReadRetries = 3
	scanBatch          = 200
)

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var compareAndSwapScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisStore is a Redis implementation of ports.Store. Every call runs under
// a bounded timeout; only reads are retried.
type RedisStore struct {
	client      redis.UniversalClient
	opTimeout   time.Duration
	readRetries uint
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithOpTimeout bounds every store round-trip.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithReadRetries sets how many attempts an idempotent read gets.
func WithReadRetries(n uint) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.readRetries = n
		}
	}
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:      client,
		opTimeout:   defaultOpTimeout,
		readRetries: defaultReadRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying client so the event publisher can share it.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, core.ErrStoreUnavailable, err)
}

// retryRead runs an idempotent read with exponential backoff. A missing key
// is permanent and returned as ports.ErrKeyNotFound.
func retryRead[T any](ctx context.Context, s *RedisStore, op string, read func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	v, err := backoff.Retry(ctx, func() (T, error) {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		v, err := read(opCtx)
		if errors.Is(err, redis.Nil) {
			return v, backoff.Permanent(ports.ErrKeyNotFound)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.readRetries))
	if err != nil {
		if errors.Is(err, ports.ErrKeyNotFound) {
			return v, ports.ErrKeyNotFound
		}
		return v, unavailable(op, err)
	}
	return v, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return retryRead(ctx, s, "get", func(ctx context.Context) (string, error) {
		return s.client.Get(ctx, key).Result()
	})
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return ok, nil
}

func (s *RedisStore) GetDel(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ports.ErrKeyNotFound
	}
	if err != nil {
		return "", unavailable("getdel", err)
	}
	return v, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		return false, unavailable("compare-and-delete", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key, old, value string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := compareAndSwapScript.Run(ctx, s.client, []string{key}, old, value).Int()
	if err != nil {
		return false, unavailable("compare-and-swap", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := retryRead(ctx, s, "exists", func(ctx context.Context) (int64, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys walks the keyspace with SCAN rather than KEYS so a large keyspace
// does not block the server.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return retryRead(ctx, s, "scan", func(ctx context.Context) ([]string, error) {
		var keys []string
		iter := s.client.Scan(ctx, 0, globEscaper.Replace(prefix)+"*", scanBatch).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return keys, iter.Err()
	})
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
