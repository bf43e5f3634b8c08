package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/medify/pedidos/internal/domain"
)

// orderEventEnvelope — wire-формат события заказа. Поля платежа присутствуют
// только у событий, рождённых сверкой с провайдером.
type orderEventEnvelope struct {
	ID             string    `json:"id"`
	Type           string    `json:"event_type"`
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id,omitempty"`
	PharmacyID     string    `json:"pharmacy_id,omitempty"`
	PrescriptionID string    `json:"prescription_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	ProviderStatus string    `json:"provider_status,omitempty"`
	Price          float64   `json:"price,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	PublishedAt    time.Time `json:"published_at"`
}

func newEnvelope(event domain.OrderEvent) orderEventEnvelope {
	return orderEventEnvelope{
		ID:             event.ID,
		Type:           string(event.Type),
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		PharmacyID:     event.PharmacyID,
		PrescriptionID: event.PrescriptionID,
		PaymentID:      event.PaymentID,
		ProviderStatus: event.ProviderStatus,
		Price:          event.Price,
		OccurredAt:     event.OccurredAt.UTC(),
		PublishedAt:    time.Now().UTC(),
	}
}

// eventMessage собирает сообщение: ключ — заказ, тип события дублируется
// в заголовке, чтобы потребители могли фильтровать без разбора тела.
func eventMessage(topic string, event domain.OrderEvent, value []byte) *sarama.ProducerMessage {
	key := event.OrderID
	if key == "" {
		key = event.ID
	}

	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{{
			Key:   []byte("event_type"),
			Value: []byte(event.Type),
		}},
		Timestamp: time.Now(),
	}
}

// OrderEventPublisher публикует события заказов в topic событий.
type OrderEventPublisher struct {
	producer *Producer
	topic    string
}

// NewOrderEventPublisher создаёт паблишер событий заказов.
func NewOrderEventPublisher(producer *Producer, topic string) *OrderEventPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OrderEventPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish отправляет событие заказа и дожидается подтверждения брокера.
func (p *OrderEventPublisher) Publish(event domain.OrderEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka event publisher is not initialized")
	}

	value, err := json.Marshal(newEnvelope(event))
	if err != nil {
		return fmt.Errorf("marshal order event %s: %w", event.ID, err)
	}

	return p.producer.Send(eventMessage(p.topic, event, value))
}

// DeadLetterPublisher отправляет недоставленные события в DLQ topic вместе
// с причиной отказа; очередь разбирает поддержка.
type DeadLetterPublisher struct {
	producer *Producer
	topic    string
}

// NewDeadLetterPublisher создаёт паблишер для dead letter queue.
func NewDeadLetterPublisher(producer *Producer, topic string) *DeadLetterPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &DeadLetterPublisher{
		producer: producer,
		topic:    topic,
	}
}

// PublishFailed кладёт событие в DLQ, дополняя конверт причиной отказа.
func (p *DeadLetterPublisher) PublishFailed(event domain.OrderEvent, reason string) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dead letter publisher is not initialized")
	}

	envelope := struct {
		orderEventEnvelope
		FailureReason string `json:"failure_reason"`
	}{
		orderEventEnvelope: newEnvelope(event),
		FailureReason:      reason,
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal dead letter event %s: %w", event.ID, err)
	}

	return p.producer.Send(eventMessage(p.topic, event, value))
}

var (
	_ domain.OutboxPublisher     = (*OrderEventPublisher)(nil)
	_ domain.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
)
