package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// RedisExamCache keeps exam definitions in Redis as JSON. PostgreSQL stays
// the source of truth; a miss or a decode failure falls through to it.
type RedisExamCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisExamCache creates a new RedisExamCache.
func NewRedisExamCache(rdb *redis.Client, ttl time.Duration) *RedisExamCache {
	return &RedisExamCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached definition, or nil on a miss.
func (c *RedisExamCache) Get(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.ExamDefinitionKey(examID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get exam definition: %w", err)
	}

	var def model.ExamDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode exam definition: %w", err)
	}
	return &def, nil
}

// Set stores the definition with the configured TTL.
func (c *RedisExamCache) Set(ctx context.Context, def *model.ExamDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode exam definition: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.ExamDefinitionKey(def.Exam.ID.String()), payload, c.ttl).Err()
}

// Invalidate drops the cached definition.
func (c *RedisExamCache) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.ExamDefinitionKey(examID.String())).Err()
}
