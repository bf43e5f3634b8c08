package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/service/weblock"
	"github.com/medify/pedidos/internal/storage/memory"
)

func seedOrder(store *memory.Store, id string, state domain.OrderState, age time.Duration) {
	store.PutOrder(domain.Order{
		ID:        id,
		UserID:    "user-1",
		State:     state,
		CreatedAt: time.Now().UTC().Add(-age),
	})
}

func TestSweepNow_ClosesOnlyStalePending(t *testing.T) {
	store := memory.NewStore()
	orders := memory.NewOrderRepository(store)

	seedOrder(store, "old", domain.OrderStatePendingPayment, 10*time.Minute)
	seedOrder(store, "mid", domain.OrderStatePendingPayment, 4*time.Minute)
	seedOrder(store, "new", domain.OrderStatePendingPayment, 1*time.Minute)
	seedOrder(store, "old-paid", domain.OrderStatePaid, 10*time.Minute)

	sweeper := NewSweeper(orders, WithPendingAge(5*time.Minute))

	if abandoned := sweeper.SweepNow(); abandoned != 1 {
		t.Fatalf("expected 1 abandoned order, got %d", abandoned)
	}

	assertState := func(id string, want domain.OrderState) {
		t.Helper()
		order, err := orders.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if order.State != want {
			t.Errorf("order %s: expected %s, got %s", id, want, order.State)
		}
	}
	assertState("old", domain.OrderStateAbandoned)
	assertState("mid", domain.OrderStatePendingPayment)
	assertState("new", domain.OrderStatePendingPayment)
	assertState("old-paid", domain.OrderStatePaid)
}

func TestSweepNow_EmitsAbandonedEvents(t *testing.T) {
	store := memory.NewStore()
	orders := memory.NewOrderRepository(store)
	outbox := memory.NewOutboxRepository()

	seedOrder(store, "old", domain.OrderStatePendingPayment, 10*time.Minute)

	sweeper := NewSweeper(orders, WithPendingAge(5*time.Minute), WithOutbox(outbox))
	sweeper.SweepNow()

	events, _ := outbox.PullPending(10)
	if len(events) != 1 || events[0].Type != domain.EventOrderAbandoned || events[0].OrderID != "old" {
		t.Errorf("expected order.abandoned event, got %+v", events)
	}
}

func TestSweepNow_PurgesExpiredLocks(t *testing.T) {
	store := memory.NewStore()
	orders := memory.NewOrderRepository(store)
	locks := weblock.NewService(memory.NewLockRepository(store), weblock.WithTTL(time.Millisecond))

	if _, ok := locks.Acquire("pay-1"); !ok {
		t.Fatal("lock acquire must win")
	}
	time.Sleep(5 * time.Millisecond)

	sweeper := NewSweeper(orders, WithLockPurge(locks))
	sweeper.SweepNow()

	// Протухший lock вычищен, платёж снова можно захватить.
	if _, ok := locks.Acquire("pay-1"); !ok {
		t.Error("expired lock must be purged by sweep")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := memory.NewStore()
	orders := memory.NewOrderRepository(store)

	sweeper := NewSweeper(orders,
		WithInterval(10*time.Millisecond),
		WithInitialDelay(0),
		WithPendingAge(5*time.Minute),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	seedOrder(store, "old", domain.OrderStatePendingPayment, 10*time.Minute)

	deadline := time.After(2 * time.Second)
	for {
		order, err := orders.Get("old")
		if err == nil && order.State == domain.OrderStateAbandoned {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not close the stale order in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancel")
	}
}
