package blob

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pos:collection:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Load(ctx context.Context, collection string) ([]byte, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+collection).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoPayload
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *RedisStore) Save(ctx context.Context, collection string, payload []byte) error {
	// No TTL: collections live until overwritten.
	return s.client.Set(ctx, redisKeyPrefix+collection, payload, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
