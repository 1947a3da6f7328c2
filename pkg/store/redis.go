package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

const redisKeyPrefix = "settler:record:"

// RedisStore keeps one JSON value per account.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new store backed by Redis.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return &RedisStore{client: rdb}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, account string) (*models.SettlementRecord, error) {
	blob, err := s.client.Get(ctx, redisKeyPrefix+key(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.SettlementRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode settlement record: %w", err)
	}
	return &rec, nil
}

// Save writes the record without expiry; the record lives until the settlement ends
func (s *RedisStore) Save(ctx context.Context, record models.SettlementRecord) error {
	if err := validate(record); err != nil {
		return err
	}
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+key(record.Account), blob, 0).Err()
}

func (s *RedisStore) Clear(ctx context.Context, account string) error {
	return s.client.Del(ctx, redisKeyPrefix+key(account)).Err()
}
