package redis

import (
	"context"
	"fmt"

	"rendezlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const optionsKey = keyPrefix + "options"

// RedisOptionStore keeps options in a single hash so several hosts can share
// one configuration.
type RedisOptionStore struct {
	client *redis.Client
}

func NewRedisOptionStore(client *redis.Client) ports.OptionStore {
	return &RedisOptionStore{client: client}
}

func (s *RedisOptionStore) GetOption(ctx context.Context, key string) (string, error) {
	value, err := s.client.HGet(ctx, optionsKey, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get option %s from Redis: %w", key, err)
	}
	return value, nil
}

// SetOption stores value; an empty value removes the key.
func (s *RedisOptionStore) SetOption(ctx context.Context, key, value string) error {
	var err error
	if value == "" {
		err = s.client.HDel(ctx, optionsKey, key).Err()
	} else {
		err = s.client.HSet(ctx, optionsKey, key, value).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to set option %s in Redis: %w", key, err)
	}
	return nil
}
