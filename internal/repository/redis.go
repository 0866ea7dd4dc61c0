package repository

import (
	"context"
	"fmt"

	"salesync/internal/config"
	"salesync/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisTaskRegistry keeps background task tags in a Redis set so the agent
// and the background runner see the same registrations.
type RedisTaskRegistry struct {
	client *redis.Client
	key    string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

func NewRedisTaskRegistry(client *redis.Client, key string) *RedisTaskRegistry {
	if key == "" {
		key = models.BackgroundTagsKey
	}
	return &RedisTaskRegistry{
		client: client,
		key:    key,
	}
}

func (r *RedisTaskRegistry) Register(ctx context.Context, tag string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	added, err := r.client.SAdd(ctx, r.key, tag).Result()
	if err != nil {
		return false, fmt.Errorf("failed to register task in redis: %w", err)
	}
	return added == 1, nil
}

func (r *RedisTaskRegistry) Unregister(ctx context.Context, tag string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.SRem(ctx, r.key, tag).Err(); err != nil {
		return fmt.Errorf("failed to unregister task in redis: %w", err)
	}
	return nil
}

func (r *RedisTaskRegistry) IsRegistered(ctx context.Context, tag string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SIsMember(ctx, r.key, tag).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check task in redis: %w", err)
	}
	return ok, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
