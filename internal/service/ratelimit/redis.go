package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisOpTimeout = 2 * time.Second

// RedisLimiter — фиксированное окно с общим счётчиком в Redis. Используется,
// когда сервис работает в несколько инстансов и in-memory окна у каждого свои.
type RedisLimiter struct {
	client     *redis.Client
	limits     map[string]int
	windowSize time.Duration
	logger     *log.Entry
}

// NewRedisLimiter создаёт лимитер поверх готового Redis-клиента.
func NewRedisLimiter(client *redis.Client, windowSize time.Duration, limits map[string]int) *RedisLimiter {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	if limits == nil {
		limits = map[string]int{
			NamespaceGeneral: DefaultLimit,
			NamespaceWebhook: WebhookLimit,
		}
	}

	return &RedisLimiter{
		client:     client,
		limits:     limits,
		windowSize: windowSize,
		logger:     log.WithField("component", "ratelimit_redis"),
	}
}

// Allow инкрементирует счётчик окна в Redis. Любая ошибка Redis — fail-open:
// запрос пропускается, проблема остаётся в логе.
func (l *RedisLimiter) Allow(namespace, key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	bucket := fmt.Sprintf("ratelimit:%s:%s", namespace, key)

	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		l.logger.WithError(err).Warn("redis rate limiter unavailable, allowing request")
		limiterDecisions.WithLabelValues(namespace, "error").Inc()
		return true
	}
	if count == 1 {
		if err := l.client.Expire(ctx, bucket, l.windowSize).Err(); err != nil {
			l.logger.WithError(err).Warn("failed to set rate limit window expiry")
		}
	}

	limit := DefaultLimit
	if v, ok := l.limits[namespace]; ok {
		limit = v
	}
	if count > int64(limit) {
		limiterDecisions.WithLabelValues(namespace, "throttled").Inc()
		return false
	}

	limiterDecisions.WithLabelValues(namespace, "allowed").Inc()
	return true
}

var _ Limiter = (*RedisLimiter)(nil)
