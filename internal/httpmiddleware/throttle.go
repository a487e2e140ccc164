package httpmiddleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"campusattend/internal/auth"
)

// Counter counts hits on a key within a fixed window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements Counter with INCR and EXPIRE, shared by every API
// replica.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter returns a counter storing keys under prefix.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "attendance:throttle:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// Hit increments key and starts its window on the first hit.
func (r *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.ExpireNX(ctx, full, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Throttle limits each authenticated user to limit requests per window on the
// routes it guards. When the counter is unavailable requests are let through.
func Throttle(counter Counter, name string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if counter == nil || limit <= 0 {
			c.Next()
			return
		}
		claims, ok := auth.ClaimsFrom(c)
		if !ok {
			c.Next()
			return
		}
		n, err := counter.Hit(c.Request.Context(), name+":"+claims.Subject, window)
		if err != nil {
			logrus.WithError(err).WithField("throttle", name).Warn("throttle counter unavailable")
			c.Next()
			return
		}
		if n > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, try again shortly"})
			return
		}
		c.Next()
	}
}
