package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis

	shutdownFlushTimeout = 5 * time.Second
	redisErrorBackoff    = 3 * time.Second
	requeueBackoff       = 2 * time.Second
)

// Queue is the Redis list API the persistence workers consume.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// consume pops JSON items from key into batches of BatchSize, flushing a
// partial batch once BatchTimeout has passed. On cancellation the remaining
// buffer is flushed with a fresh context before returning.
func consume[T any](ctx context.Context, q Queue, key string, log zerolog.Logger, flush func(context.Context, []T)) {
	buffer := make([]T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 &&
			(len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			flush(ctx, buffer)
			buffer = make([]T, 0, BatchSize)
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			if len(buffer) > 0 {
				log.Info().Int("count", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
				flush(shutdownCtx, buffer)
				cancel()
			}
			return
		default:
		}

		result, err := q.BLPop(ctx, PollTimeout, key).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, redisErrorBackoff)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			// Malformed JSON can never succeed; log and discard.
			log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

// requeue pushes items back onto key for a later attempt.
func requeue[T any](ctx context.Context, q Queue, key string, log zerolog.Logger, items []T) {
	if len(items) == 0 {
		return
	}
	values := make([]any, 0, len(items))
	for _, it := range items {
		raw, err := json.Marshal(it)
		if err != nil {
			continue
		}
		values = append(values, raw)
	}
	if err := q.RPush(context.WithoutCancel(ctx), key, values...).Err(); err != nil {
		log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleepCtx(ctx, requeueBackoff)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
