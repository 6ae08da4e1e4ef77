package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/Dhoini/Loyalty-microservice/pkg/res"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter скользящее окно поверх Redis sorted set.
// Недоступность Redis пропускает запрос (fail-open).
type RateLimiter struct {
	client            *redis.Client
	requestsPerMinute int
	log               *logger.Logger
}

// NewRateLimiter создает лимитер запросов
func NewRateLimiter(client *redis.Client, requestsPerMinute int, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		log:               log,
	}
}

// LimitByParam Gin middleware, ограничивающий запросы по значению path-параметра
// (например по customer_id); при отсутствии параметра ключом служит IP клиента.
// Превышение лимита отклоняется со статусом 429.
func (r *RateLimiter) LimitByParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param(param)
		if key == "" {
			key = c.ClientIP()
		}

		allowed, err := r.Allow(c.Request.Context(), key)
		if err != nil {
			r.log.Warnw("Rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}
		if !allowed {
			r.log.Warnw("Request rate limited", "key", key, "path", c.Request.URL.Path)
			res.JsonResponse(c.Writer, res.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "rate_limited",
			}, http.StatusTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Allow регистрирует запрос в минутном окне для данного ключа и проверяет лимит
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	now := time.Now()
	windowStart := now.Add(-time.Minute)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	count := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return count.Val() <= int64(r.requestsPerMinute), nil
}
