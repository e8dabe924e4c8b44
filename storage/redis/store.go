package redisstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Storage keeps session entries as plain redis string keys under a prefix.
type Storage struct {
	client *redis.Client
	prefix string
}

func NewStorage(client *redis.Client, prefix string) *Storage {
	return &Storage{client: client, prefix: prefix}
}

// Open connects to the redis server at addr and checks it is reachable.
func Open(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return client, nil
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %q", key)
	}
	return val, true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(s.client.Set(ctx, s.prefix+key, value, 0).Err(), "redis set %q", key)
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, s.prefix+key)
	}
	return errors.Wrap(s.client.Del(ctx, prefixed...).Err(), "redis del")
}
