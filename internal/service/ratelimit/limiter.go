// Package ratelimit ограничивает частоту запросов по клиенту фиксированным
// окном. Лимитер защищает публичные endpoints и webhook провайдера платежей
// от шторма повторных уведомлений.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultWindow — длительность фиксированного окна.
	DefaultWindow = 60 * time.Second
	// DefaultLimit — лимит запросов в окно для обычных endpoints.
	DefaultLimit = 10
	// WebhookLimit — отдельный, более строгий лимит для webhook уведомлений.
	WebhookLimit = 5

	// NamespaceGeneral и NamespaceWebhook разделяют счётчики: исчерпание
	// общего лимита не блокирует уведомления провайдера и наоборот.
	NamespaceGeneral = "general"
	NamespaceWebhook = "webhook"

	defaultMaxEntries = 10000
)

var limiterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pedidos_ratelimit_decisions_total",
	Help: "Total number of rate limiter decisions grouped by namespace and result.",
}, []string{"namespace", "result"})

// Limiter отвечает, можно ли пропустить запрос клиента key в пространстве
// namespace. Реализации обязаны быть fail-open: инфраструктурная ошибка
// лимитера никогда не блокирует запрос.
type Limiter interface {
	Allow(namespace, key string) bool
}

type window struct {
	startedAt time.Time
	count     int
}

// MemoryLimiter — фиксированное окно в памяти процесса. Для одного инстанса
// сервиса этого достаточно; для горизонтального масштабирования есть
// RedisLimiter с общим счётчиком.
type MemoryLimiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	limits     map[string]int
	windowSize time.Duration
	maxEntries int
	logger     *log.Entry

	now func() time.Time
}

// MemoryOption настраивает MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithWindow задаёт длительность окна.
func WithWindow(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) {
		if d > 0 {
			l.windowSize = d
		}
	}
}

// WithNamespaceLimit задаёт лимит для конкретного namespace.
func WithNamespaceLimit(namespace string, limit int) MemoryOption {
	return func(l *MemoryLimiter) {
		if limit > 0 {
			l.limits[namespace] = limit
		}
	}
}

// WithMaxEntries задаёт потолок количества отслеживаемых клиентов.
func WithMaxEntries(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// NewMemoryLimiter создаёт in-memory лимитер с лимитами по умолчанию:
// 10 запросов в минуту для general и 5 для webhook.
func NewMemoryLimiter(options ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		limits: map[string]int{
			NamespaceGeneral: DefaultLimit,
			NamespaceWebhook: WebhookLimit,
		},
		windowSize: DefaultWindow,
		maxEntries: defaultMaxEntries,
		logger:     log.WithField("component", "ratelimit"),
		now:        time.Now,
	}
	for _, option := range options {
		option(l)
	}

	return l
}

// Allow учитывает запрос и отвечает, попадает ли он в лимит текущего окна.
func (l *MemoryLimiter) Allow(namespace, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket := namespace + ":" + key

	w, ok := l.windows[bucket]
	if !ok || now.Sub(w.startedAt) >= l.windowSize {
		if !ok && len(l.windows) >= l.maxEntries {
			l.pruneLocked(now)
		}
		l.windows[bucket] = &window{startedAt: now, count: 1}
		limiterDecisions.WithLabelValues(namespace, "allowed").Inc()
		return true
	}

	w.count++
	if w.count > l.limitFor(namespace) {
		limiterDecisions.WithLabelValues(namespace, "throttled").Inc()
		return false
	}

	limiterDecisions.WithLabelValues(namespace, "allowed").Inc()
	return true
}

func (l *MemoryLimiter) limitFor(namespace string) int {
	if limit, ok := l.limits[namespace]; ok {
		return limit
	}
	return DefaultLimit
}

// pruneLocked выбрасывает завершившиеся окна; если живых окон всё ещё больше
// лимита, карта сбрасывается целиком, чтобы не расти без границ.
func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for bucket, w := range l.windows {
		if now.Sub(w.startedAt) >= l.windowSize {
			delete(l.windows, bucket)
		}
	}
	if len(l.windows) >= l.maxEntries {
		l.logger.WithField("entries", len(l.windows)).Warn("rate limiter map overflow, resetting windows")
		l.windows = make(map[string]*window)
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
