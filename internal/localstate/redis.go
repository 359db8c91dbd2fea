package localstate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "quotegate:local:"

// Redis keeps state in Redis. Every write refreshes the key's TTL so state
// for abandoned tabs ages out.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, redisKey(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, namespace, key, value string) error {
	return r.client.Set(ctx, redisKey(namespace, key), value, r.ttl).Err()
}

func (r *Redis) Remove(ctx context.Context, namespace, key string) error {
	return r.client.Del(ctx, redisKey(namespace, key)).Err()
}

func redisKey(namespace, key string) string {
	return redisPrefix + namespace + ":" + key
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
