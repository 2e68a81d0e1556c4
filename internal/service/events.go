package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// RedisPublisher hands completed outcomes to the analytics worker queue and
// fans live events out on the per-exam monitor channel.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// PublishOutcome enqueues an outcome for the analytics worker.
func (p *RedisPublisher) PublishOutcome(ctx context.Context, outcome model.AttemptOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return p.rdb.RPush(ctx, config.WorkerKey.PersistOutcomesQueue, payload).Err()
}

// PublishMonitor broadcasts a live event to instructors watching the exam.
func (p *RedisPublisher) PublishMonitor(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode monitor event: %w", err)
	}
	return p.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err()
}
