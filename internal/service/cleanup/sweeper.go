// Package cleanup закрывает заказы, брошенные покупателем на странице оплаты.
// Фоновый sweeper периодически находит зависшие pendiente_de_pago заказы и
// помечает их как abandonada, попутно вычищая протухшие webhook locks.
package cleanup

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/service/weblock"
)

const (
	// DefaultInterval — период между проходами sweeper.
	DefaultInterval = 2 * time.Minute
	// DefaultInitialDelay — пауза перед первым проходом после старта сервиса.
	DefaultInitialDelay = 30 * time.Second
	// DefaultPendingAge — возраст, после которого неоплаченный заказ считается брошенным.
	DefaultPendingAge = 5 * time.Minute
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedidos_cleanup_sweeps_total",
		Help: "Total number of cleanup sweeps grouped by result.",
	}, []string{"result"})
	sweepAbandonedOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pedidos_cleanup_abandoned_orders_total",
		Help: "Total number of orders closed as abandoned by the cleanup sweeper.",
	})
	sweepLastAbandoned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pedidos_cleanup_last_sweep_abandoned",
		Help: "Number of orders abandoned during the most recent sweep.",
	})
)

// SweeperOptions задаёт параметры sweeper.
type SweeperOptions struct {
	Logger       *log.Entry
	Interval     time.Duration
	InitialDelay time.Duration
	PendingAge   time.Duration
	Locks        *weblock.Service
	Outbox       domain.OutboxRepository
}

// Option настраивает Sweeper.
type Option func(*SweeperOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт период между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithInitialDelay задаёт паузу перед первым проходом.
func WithInitialDelay(delay time.Duration) Option {
	return func(opts *SweeperOptions) {
		opts.InitialDelay = delay
	}
}

// WithPendingAge задаёт возраст, после которого pending-заказ закрывается.
func WithPendingAge(age time.Duration) Option {
	return func(opts *SweeperOptions) {
		opts.PendingAge = age
	}
}

// WithLockPurge включает чистку протухших webhook locks на каждом проходе.
func WithLockPurge(locks *weblock.Service) Option {
	return func(opts *SweeperOptions) {
		opts.Locks = locks
	}
}

// WithOutbox включает публикацию order.abandoned событий.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *SweeperOptions) {
		opts.Outbox = outbox
	}
}

// Sweeper закрывает брошенные заказы.
type Sweeper struct {
	orders       domain.OrderRepository
	locks        *weblock.Service
	outbox       domain.OutboxRepository
	logger       *log.Entry
	interval     time.Duration
	initialDelay time.Duration
	pendingAge   time.Duration
}

// NewSweeper создаёт sweeper с параметрами по умолчанию.
func NewSweeper(orders domain.OrderRepository, options ...Option) *Sweeper {
	opts := SweeperOptions{
		Interval:     DefaultInterval,
		InitialDelay: DefaultInitialDelay,
		PendingAge:   DefaultPendingAge,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cleanup-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if opts.PendingAge <= 0 {
		opts.PendingAge = DefaultPendingAge
	}

	return &Sweeper{
		orders:       orders,
		locks:        opts.Locks,
		outbox:       opts.Outbox,
		logger:       logger,
		interval:     opts.Interval,
		initialDelay: opts.InitialDelay,
		pendingAge:   opts.PendingAge,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.WithFields(log.Fields{
		"interval":      s.interval.String(),
		"initial_delay": s.initialDelay.String(),
		"pending_age":   s.pendingAge.String(),
	}).Info("cleanup sweeper started")

	if s.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.initialDelay):
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepNow()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.SweepNow()
		}
	}
}

// SweepNow выполняет один проход и возвращает количество закрытых заказов.
// Ошибка по одному заказу не прерывает проход: остальные заказы закрываются.
func (s *Sweeper) SweepNow() int {
	ids, err := s.orders.FindStalePending(s.pendingAge)
	if err != nil {
		s.logger.WithError(err).Error("failed to find stale pending orders")
		sweepRuns.WithLabelValues("error").Inc()
		return 0
	}

	abandoned := 0
	for _, id := range ids {
		if err := s.orders.MarkAbandoned(id); err != nil {
			s.logger.WithError(err).WithField("order_id", id).Warn("failed to mark order abandoned")
			continue
		}
		abandoned++
		sweepAbandonedOrders.Inc()
		s.enqueueAbandonedEvent(id)
	}

	if s.locks != nil {
		if purged := s.locks.PurgeExpired(); purged > 0 {
			s.logger.WithField("purged_locks", purged).Debug("purged expired webhook locks")
		}
	}

	sweepRuns.WithLabelValues("ok").Inc()
	sweepLastAbandoned.Set(float64(abandoned))

	if abandoned > 0 || len(ids) > 0 {
		s.logger.WithFields(log.Fields{
			"stale_found": len(ids),
			"abandoned":   abandoned,
		}).Info("cleanup sweep finished")
	}

	return abandoned
}

func (s *Sweeper) enqueueAbandonedEvent(orderID string) {
	if s.outbox == nil {
		return
	}

	if _, err := s.outbox.Enqueue(domain.OrderEvent{
		Type:    domain.EventOrderAbandoned,
		OrderID: orderID,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to enqueue abandoned event")
	}
}
