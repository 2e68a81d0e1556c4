package middleware

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/response"
	"golang.org/x/crypto/blake2b"
)

// AuditQueue is the Redis subset the audit interceptor needs.
type AuditQueue interface {
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// Auditor records one audit entry per request on the audit queue. Client
// IPs are stored only as a keyed BLAKE2b digest.
type Auditor struct {
	queue AuditQueue
	key   []byte
	log   zerolog.Logger
	now   func() time.Time
}

// NewAuditor creates an Auditor. ipKey is truncated to the 64 bytes BLAKE2b accepts.
func NewAuditor(queue AuditQueue, ipKey string, log zerolog.Logger) *Auditor {
	key := []byte(ipKey)
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	return &Auditor{
		queue: queue,
		key:   key,
		log:   log.With().Str("component", "audit").Logger(),
		now:   time.Now,
	}
}

// Middleware enqueues the entry after the handler has run. Enqueue failures
// are logged and never affect the response.
func (a *Auditor) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := a.now()
		c.Next()

		entry := model.AuditEntry{
			RequestID:  response.RequestID(c),
			Method:     c.Request.Method,
			Route:      c.FullPath(),
			Status:     c.Writer.Status(),
			LatencyMS:  a.now().Sub(start).Milliseconds(),
			IPHash:     a.HashIP(c.ClientIP()),
			RecordedAt: start.UTC(),
		}
		if entry.Route == "" {
			entry.Route = c.Request.URL.Path
		}
		if claims := GetClaims(c); claims != nil {
			entry.UserID = claims.UserID
			entry.Role = string(claims.Role)
		}

		raw, err := json.Marshal(entry)
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to encode audit entry")
			return
		}
		if err := a.queue.RPush(context.WithoutCancel(c.Request.Context()), config.WorkerKey.PersistAuditQueue, raw).Err(); err != nil {
			a.log.Warn().Err(err).Str("request_id", entry.RequestID).Msg("Failed to enqueue audit entry")
		}
	}
}

// HashIP returns the hex keyed digest of ip.
func (a *Auditor) HashIP(ip string) string {
	h, err := blake2b.New256(a.key)
	if err != nil {
		// Only reachable with an oversized key, which NewAuditor prevents.
		sum := blake2b.Sum256([]byte(ip))
		return hex.EncodeToString(sum[:])
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}
