package draftstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// draftTTL keeps abandoned drafts from accumulating forever. A contest
// attempt never outlives a week.
const draftTTL = 7 * 24 * time.Hour

// RedisStore persists drafts in redis so a participant can resume after a
// reload or on another machine.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveCode(ctx context.Context, contestID, taskID, code string) error {
	return s.rdb.Set(ctx, codeKey(contestID, taskID), code, draftTTL).Err()
}

func (s *RedisStore) LoadCode(ctx context.Context, contestID, taskID string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, codeKey(contestID, taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) SaveLanguage(ctx context.Context, contestID, taskID, languageID string) error {
	return s.rdb.Set(ctx, languageKey(contestID, taskID), languageID, draftTTL).Err()
}

func (s *RedisStore) LoadLanguage(ctx context.Context, contestID, taskID string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, languageKey(contestID, taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
