package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
)

func mockedProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()

	mockProducer := mocks.NewSyncProducer(t, nil)
	return &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-test"),
	}, mockProducer
}

func paidEvent() domain.OrderEvent {
	return domain.OrderEvent{
		ID:             "evt-1",
		Type:           domain.EventOrderPaid,
		OrderID:        "order-123",
		UserID:         "user-1",
		PaymentID:      "pay-1",
		ProviderStatus: domain.ProviderStatusApproved,
		Price:          1500,
		OccurredAt:     time.Now().UTC(),
	}
}

func TestOrderEventPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := mockedProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			t.Errorf("message key must be the order id, got %q", key)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "order.paid" {
			t.Errorf("expected event_type header, got %+v", msg.Headers)
		}

		raw, _ := msg.Value.Encode()
		var envelope orderEventEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return err
		}
		if envelope.Type != "order.paid" || envelope.PaymentID != "pay-1" {
			t.Errorf("unexpected envelope: %+v", envelope)
		}
		if envelope.PublishedAt.IsZero() {
			t.Error("expected published_at stamp")
		}
		return nil
	})

	publisher := NewOrderEventPublisher(producer, TopicOrderEvents)
	if err := publisher.Publish(paidEvent()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOrderEventPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := mockedProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOrderEventPublisher(producer, TopicOrderEvents)
	if err := publisher.Publish(paidEvent()); err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOrderEventPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOrderEventPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(paidEvent()); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestDeadLetterPublisher_CarriesFailureReason(t *testing.T) {
	t.Parallel()

	producer, mockProducer := mockedProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(raw []byte) error {
		var envelope struct {
			Type          string `json:"event_type"`
			OrderID       string `json:"order_id"`
			FailureReason string `json:"failure_reason"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return err
		}
		if envelope.FailureReason != "broker down" {
			t.Errorf("expected failure reason in dlq envelope, got %+v", envelope)
		}
		if envelope.Type != "order.paid" || envelope.OrderID != "order-123" {
			t.Errorf("dlq envelope must carry the original event, got %+v", envelope)
		}
		return nil
	})

	dlq := NewDeadLetterPublisher(producer, TopicDeadLetterQueue)
	if err := dlq.PublishFailed(paidEvent(), "broker down"); err != nil {
		t.Fatalf("publish to dlq failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
