package config

import (
	"fmt"
	"time"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamDefinitionKey returns the cache key for an exam definition with its question set
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// RateLimitKey returns the fixed-window counter key for a caller in the window containing t
func (r *CacheKeyStruct) RateLimitKey(subject string, window time.Duration, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", subject, t.Unix()/int64(window.Seconds()))
}

var CacheKey = NewCacheKeyStruct()
