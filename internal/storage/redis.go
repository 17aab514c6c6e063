package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vtuber-backend/internal/model"
	"vtuber-backend/pkg/logger"
)

const historyPrefix = "history:"

// RedisStorage keeps each key's history in a capped redis list.
type RedisStorage struct {
	rdb         *redis.Client
	ttl         time.Duration
	maxMessages int
}

func NewRedisStorage(opts *redis.Options, ttl time.Duration, maxMessages int) *RedisStorage {
	return &RedisStorage{
		rdb:         redis.NewClient(opts),
		ttl:         ttl,
		maxMessages: maxMessages,
	}
}

func (r *RedisStorage) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrStorageInit, err)
	}
	logger.Info("Redis history storage initialized")
	return nil
}

func (r *RedisStorage) Close() error {
	return r.rdb.Close()
}

func (r *RedisStorage) Append(ctx context.Context, key string, messages ...model.Message) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	values := make([]any, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	listKey := historyPrefix + key
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, listKey, values...)
	if r.maxMessages > 0 {
		pipe.LTrim(ctx, listKey, int64(-r.maxMessages), -1)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, listKey, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (r *RedisStorage) Recent(ctx context.Context, key string, n int) ([]model.Message, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := r.rdb.LRange(ctx, historyPrefix+key, start, -1).Result()
	if err == redis.Nil {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (r *RedisStorage) Clear(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, historyPrefix+key).Err()
}
