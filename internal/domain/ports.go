package domain

import (
	"errors"
	"time"
)

// PaymentProvider описывает взаимодействие с платёжным провайдером.
type PaymentProvider interface {
	// IsConfigured сообщает, задан ли access token; без него checkout недоступен.
	IsConfigured() bool
	// GetPayment возвращает авторитетное состояние платежа.
	GetPayment(paymentID string) (ProviderPayment, error)
	// CreatePreference создаёт preference и возвращает ссылку на оплату.
	CreatePreference(req PreferenceRequest) (Preference, error)
}

// OrderEventType — тип события жизненного цикла заказа.
type OrderEventType string

const (
	EventOrderCreated   OrderEventType = "order.created"
	EventOrderPaid      OrderEventType = "order.paid"
	EventOrderRejected  OrderEventType = "order.rejected"
	EventOrderCancelled OrderEventType = "order.cancelled"
	EventOrderAbandoned OrderEventType = "order.abandoned"
)

// OrderEvent — событие жизненного цикла заказа для внешних потребителей
// (уведомления покупателю, панель аптеки, аналитика). Заполняются только
// поля, известные в точке события: платёжные поля есть лишь у событий,
// рождённых сверкой с провайдером.
type OrderEvent struct {
	ID             string
	Type           OrderEventType
	OrderID        string
	UserID         string
	PharmacyID     string
	PrescriptionID string
	PaymentID      string
	ProviderStatus string
	Price          float64
	OccurredAt     time.Time
}

// OutboxPublisher доставляет события заказов наружу.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OrderEvent) error
}

// DeadLetterPublisher принимает события, которые не удалось доставить
// штатным путём, вместе с причиной отказа.
type DeadLetterPublisher interface {
	PublishFailed(event OrderEvent, reason string) error
}

// ErrOutboxPublish — ошибка при публикации события из outbox.
var ErrOutboxPublish = errors.New("outbox publish failed")

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
