// Package outbox доставляет события заказов из transactional outbox в брокер.
// Запись события происходит рядом с изменением заказа; dispatcher доставляет
// её at-least-once, дубликаты разруливает идентификатор события.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedidos_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result and event type.",
	}, []string{"result", "event"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pedidos_outbox_pending_records",
		Help: "Current number of pending events in transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pedidos_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox event.",
	})
)

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDLQPublisher задаёт приёмник событий, не доставленных после всех попыток.
func WithDLQPublisher(publisher domain.DeadLetterPublisher) Option {
	return func(d *Dispatcher) {
		d.dlq = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(d *Dispatcher) {
		if batchSize > 0 {
			d.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт базовое число попыток публикации перед DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.retryBaseDelay = delay
		}
	}
}

// Dispatcher вытягивает pending-события заказов и публикует их в брокер.
type Dispatcher struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlq            domain.DeadLetterPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewDispatcher создаёт dispatcher событий заказов.
func NewDispatcher(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-dispatcher"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(d)
	}

	return d
}

// Run запускает периодический опрос outbox до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.repo == nil || d.publisher == nil {
		d.logger.Warn("outbox dispatcher is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.DispatchOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce выполняет один цикл: вытягивает батч pending-событий и
// публикует каждое. Недоставленное событие уходит в DLQ и помечается failed,
// чтобы не блокировать хвост очереди.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	d.refreshBacklogMetrics()

	events, err := d.repo.PullPending(d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to pull pending order events")
		return
	}
	if len(events) == 0 {
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, event)
	}

	d.refreshBacklogMetrics()
}

func (d *Dispatcher) dispatch(ctx context.Context, event domain.OrderEvent) {
	logger := d.logger.WithFields(log.Fields{
		"event_id": event.ID,
		"event":    string(event.Type),
		"order_id": event.OrderID,
	})

	if err := d.publishWithRetry(ctx, event); err != nil {
		logger.WithError(err).Error("order event publish failed after retries")
		outboxPublishAttempts.WithLabelValues("failed", string(event.Type)).Inc()

		if d.dlq != nil {
			if dlqErr := d.dlq.PublishFailed(event, err.Error()); dlqErr != nil {
				logger.WithError(dlqErr).Warn("failed to publish order event to DLQ")
				outboxPublishAttempts.WithLabelValues("dlq_failed", string(event.Type)).Inc()
			}
		}
		if markErr := d.repo.MarkFailed(event.ID); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark order event as failed")
		}
		return
	}

	if err := d.repo.MarkSent(event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark order event as sent")
	}
}

// attemptsFor возвращает бюджет попыток для события. order.paid питает
// кассовую сверку аптеки и уведомление покупателя об оплате, поэтому ему
// даётся вдвое больше попыток, чем информационным событиям.
func (d *Dispatcher) attemptsFor(eventType domain.OrderEventType) int {
	if eventType == domain.EventOrderPaid {
		return d.maxAttempts * 2
	}
	return d.maxAttempts
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, event domain.OrderEvent) error {
	attempts := d.attemptsFor(event.Type)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := d.publisher.Publish(event)
		if err == nil {
			outboxPublishAttempts.WithLabelValues("sent", string(event.Type)).Inc()
			return nil
		}
		lastErr = err
		outboxPublishAttempts.WithLabelValues("retry_error", string(event.Type)).Inc()

		if attempt >= attempts {
			break
		}

		delay := d.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", attempts, lastErr)
}

func (d *Dispatcher) retryBackoff(attempt int) time.Duration {
	if d.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return d.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := d.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

func (d *Dispatcher) refreshBacklogMetrics() {
	stats, err := d.repo.Stats()
	if err != nil {
		d.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}
