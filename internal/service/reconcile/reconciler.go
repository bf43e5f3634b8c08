// Package reconcile приводит заказы в соответствие с авторитетным состоянием
// платежей у провайдера. Webhook уведомление — лишь сигнал перечитать платёж:
// его содержимому сервис не доверяет.
package reconcile

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/service/ratelimit"
	"github.com/medify/pedidos/internal/service/weblock"
)

// Result — исход обработки одного уведомления. Используется и как label метрики.
type Result string

const (
	// ResultProcessed — статус платежа применён к заказу.
	ResultProcessed Result = "processed"
	// ResultDuplicate — повтор уже применённого платежа, no-op.
	ResultDuplicate Result = "duplicate"
	// ResultConflict — заказ оплачен другим платежом; аномалия, мутаций нет.
	ResultConflict Result = "conflict"
	// ResultIgnored — уведомление не про платёж, либо платёж/заказ не найден.
	ResultIgnored Result = "ignored"
	// ResultThrottled — источник превысил лимит уведомлений.
	ResultThrottled Result = "throttled"
	// ResultLocked — платёж уже обрабатывается другим инстансом.
	ResultLocked Result = "locked"
	// ResultError — инфраструктурная ошибка; провайдер повторит доставку.
	ResultError Result = "error"
)

var notificationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pedidos_webhook_notifications_total",
	Help: "Total number of processed webhook notifications grouped by result.",
}, []string{"result"})

// Reconciler обрабатывает уведомления платёжного провайдера.
type Reconciler struct {
	orders   domain.OrderRepository
	provider domain.PaymentProvider
	locks    *weblock.Service
	limiter  ratelimit.Limiter
	outbox   domain.OutboxRepository
	logger   *log.Entry
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithOutbox включает публикацию событий заказа через transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(r *Reconciler) {
		r.outbox = outbox
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler создаёт обработчик уведомлений.
func NewReconciler(
	orders domain.OrderRepository,
	provider domain.PaymentProvider,
	locks *weblock.Service,
	limiter ratelimit.Limiter,
	options ...Option,
) *Reconciler {
	r := &Reconciler{
		orders:   orders,
		provider: provider,
		locks:    locks,
		limiter:  limiter,
		logger:   log.WithField("component", "reconciler"),
	}
	for _, option := range options {
		option(r)
	}

	return r
}

// Process обрабатывает одно уведомление. clientKey идентифицирует источник
// доставки и попадает только в логи; rate limiter считает уведомления по
// payment id, чтобы шквал ретраев одного платежа не задевал остальные.
//
// HTTP-слой подтверждает любой исход 200-м, включая ResultError: упавший
// платёж провайдер повторит по своему расписанию ретраев.
func (r *Reconciler) Process(payload map[string]any, clientKey string) Result {
	result := r.process(payload, clientKey)
	notificationOutcomes.WithLabelValues(string(result)).Inc()
	return result
}

func (r *Reconciler) process(payload map[string]any, clientKey string) Result {
	n := ParseNotification(payload)
	if !n.IsPayment() {
		r.logger.WithField("type", n.Type).Debug("ignoring non-payment notification")
		return ResultIgnored
	}
	if n.PaymentID == "" {
		r.logger.Warn("payment notification without payment id")
		return ResultIgnored
	}

	logger := r.logger.WithField("payment_id", n.PaymentID)

	if r.limiter != nil && !r.limiter.Allow(ratelimit.NamespaceWebhook, n.PaymentID) {
		logger.WithField("client", clientKey).Warn("webhook notifications for payment are throttled")
		return ResultThrottled
	}

	if _, ok := r.locks.Acquire(n.PaymentID); !ok {
		return ResultLocked
	}
	defer r.locks.Release(n.PaymentID)

	payment, err := r.provider.GetPayment(n.PaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			logger.Warn("provider does not know this payment")
			return ResultIgnored
		}
		logger.WithError(err).Error("failed to fetch payment from provider")
		return ResultError
	}

	orderID := payment.OrderID()
	if orderID == "" {
		logger.Warn("payment does not reference an order")
		return ResultIgnored
	}
	logger = logger.WithField("order_id", orderID)

	state := domain.OrderStateForProviderStatus(payment.Status)
	switch state {
	case domain.OrderStatePaid:
		return r.settle(logger, orderID, payment)
	case domain.OrderStateUnknown:
		// Нераспознанный статус провайдера. Заказ переводим в desconocido и
		// записываем сырой статус: поддержке нужен след, событие не шлём.
		logger.WithField("status", payment.Status).Warn("unrecognized provider payment status")
		return r.updateNonTerminal(logger, orderID, state, payment)
	default:
		return r.updateNonTerminal(logger, orderID, state, payment)
	}
}

func (r *Reconciler) settle(logger *log.Entry, orderID string, payment domain.ProviderPayment) Result {
	outcome, err := r.orders.SettleIdempotent(orderID, payment.ID, payment.Status)
	if err != nil {
		logger.WithError(err).Error("failed to settle order")
		return ResultError
	}

	switch outcome {
	case domain.SettleApplied:
		logger.Info("order settled as paid")
		r.enqueueEvent(orderID, domain.EventOrderPaid, payment)
		return ResultProcessed
	case domain.SettleDuplicate:
		logger.Info("duplicate payment notification, order already paid")
		return ResultDuplicate
	case domain.SettleConflict:
		// Один заказ, два разных платежа. Заказ не трогаем, исходный платёж
		// остаётся записанным; расхождение решает поддержка.
		logger.WithField("status", payment.Status).
			Error("order is already paid by a different payment, manual review required")
		return ResultConflict
	case domain.SettleOrderMissing:
		logger.Warn("payment references a missing order")
		return ResultIgnored
	default:
		logger.WithField("outcome", outcome).Error("unexpected settle outcome")
		return ResultError
	}
}

func (r *Reconciler) updateNonTerminal(logger *log.Entry, orderID string, state domain.OrderState, payment domain.ProviderPayment) Result {
	if err := r.orders.UpdateNonTerminal(orderID, state, payment.ID, payment.Status); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("payment references a missing order")
			return ResultIgnored
		}
		logger.WithError(err).Error("failed to update order state")
		return ResultError
	}

	logger.WithFields(log.Fields{
		"state":  string(state),
		"status": payment.Status,
	}).Info("order state updated from provider")

	switch state {
	case domain.OrderStateRejected:
		r.enqueueEvent(orderID, domain.EventOrderRejected, payment)
	case domain.OrderStateCancelled:
		r.enqueueEvent(orderID, domain.EventOrderCancelled, payment)
	}

	return ResultProcessed
}

// enqueueEvent кладёт событие заказа в outbox. Ошибка не меняет исход
// обработки: событие вторично по отношению к состоянию заказа.
func (r *Reconciler) enqueueEvent(orderID string, eventType domain.OrderEventType, payment domain.ProviderPayment) {
	if r.outbox == nil {
		return
	}

	if _, err := r.outbox.Enqueue(domain.OrderEvent{
		Type:           eventType,
		OrderID:        orderID,
		PaymentID:      payment.ID,
		ProviderStatus: payment.Status,
	}); err != nil {
		r.logger.WithError(err).WithField("order_id", orderID).Warn("failed to enqueue order event")
	}
}
