package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/storage/memory"
)

type stubPublisher struct {
	mu       sync.Mutex
	events   []domain.OrderEvent
	err      error
	failures int
}

func (p *stubPublisher) Publish(event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		p.failures++
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) published() []domain.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OrderEvent(nil), p.events...)
}

func (p *stubPublisher) failureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

type stubDLQ struct {
	mu      sync.Mutex
	events  []domain.OrderEvent
	reasons []string
}

func (p *stubDLQ) PublishFailed(event domain.OrderEvent, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.reasons = append(p.reasons, reason)
	return nil
}

func (p *stubDLQ) published() []domain.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OrderEvent(nil), p.events...)
}

func enqueue(t *testing.T, repo domain.OutboxRepository, eventType domain.OrderEventType) domain.OrderEvent {
	t.Helper()
	event, err := repo.Enqueue(domain.OrderEvent{
		Type:    eventType,
		OrderID: "order-1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return event
}

func TestDispatchOnce_PublishesAndMarksSent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}
	enqueue(t, repo, domain.EventOrderPaid)

	dispatcher := NewDispatcher(repo, publisher)
	dispatcher.DispatchOnce(context.Background())

	events := publisher.published()
	if len(events) != 1 || events[0].Type != domain.EventOrderPaid {
		t.Fatalf("unexpected published events: %+v", events)
	}
	if events[0].OrderID != "order-1" {
		t.Errorf("event must carry the order id, got %+v", events[0])
	}

	pending, _ := repo.PullPending(10)
	if len(pending) != 0 {
		t.Errorf("expected drained outbox, got %+v", pending)
	}
}

func TestDispatchOnce_FailedPublishGoesToDLQ(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubDLQ{}
	event := enqueue(t, repo, domain.EventOrderRejected)

	dispatcher := NewDispatcher(repo, publisher,
		WithMaxAttempts(2),
		WithRetryBaseDelay(0),
		WithDLQPublisher(dlq),
	)
	dispatcher.DispatchOnce(context.Background())

	dlqEvents := dlq.published()
	if len(dlqEvents) != 1 || dlqEvents[0].ID != event.ID {
		t.Fatalf("expected event in DLQ, got %+v", dlqEvents)
	}
	if len(dlq.reasons) != 1 || dlq.reasons[0] == "" {
		t.Errorf("dlq entry must carry the failure reason, got %+v", dlq.reasons)
	}

	// Событие помечено failed и больше не вытягивается.
	pending, _ := repo.PullPending(10)
	if len(pending) != 0 {
		t.Errorf("failed event must leave the pending queue, got %+v", pending)
	}
}

func TestDispatchOnce_PaidEventGetsExtraAttempts(t *testing.T) {
	repo := memory.NewOutboxRepository()
	paid := &stubPublisher{err: errors.New("broker down")}
	enqueue(t, repo, domain.EventOrderPaid)

	NewDispatcher(repo, paid, WithMaxAttempts(2), WithRetryBaseDelay(0)).
		DispatchOnce(context.Background())

	// order.paid получает удвоенный бюджет попыток относительно базового.
	if got := paid.failureCount(); got != 4 {
		t.Errorf("expected 4 attempts for order.paid, got %d", got)
	}

	repo = memory.NewOutboxRepository()
	info := &stubPublisher{err: errors.New("broker down")}
	enqueue(t, repo, domain.EventOrderAbandoned)

	NewDispatcher(repo, info, WithMaxAttempts(2), WithRetryBaseDelay(0)).
		DispatchOnce(context.Background())

	if got := info.failureCount(); got != 2 {
		t.Errorf("expected 2 attempts for order.abandoned, got %d", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}
	enqueue(t, repo, domain.EventOrderCreated)

	dispatcher := NewDispatcher(repo, publisher, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(publisher.published()) == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatcher did not publish in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestRun_DisabledWithoutPublisher(t *testing.T) {
	dispatcher := NewDispatcher(memory.NewOutboxRepository(), nil)

	done := make(chan struct{})
	go func() {
		dispatcher.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher without publisher must return immediately")
	}
}
