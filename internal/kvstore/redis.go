package kvstore

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis-backed Store, matching the
// cache.redis_host/port/password configuration keys.
type RedisOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Redis adapts a real Redis client to the Store contract.
type Redis struct {
	client *redis.Client
}

// NewRedis dials a Redis client. Dialing is lazy in go-redis; this does
// not block on connectivity, matching the spec's fail-open posture —
// a Redis outage surfaces as per-call errors, not at construction.
func NewRedis(opts RedisOptions) *Redis {
	addr := opts.Host
	if opts.Port != 0 {
		addr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	}
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Incr mirrors the spec's lazy-create semantics: INCR creates the key at
// 1 if absent, with no TTL; this adapter then attaches the TTL only on
// that first creation, leaving a pre-existing counter's TTL untouched.
func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
