package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/provider/providertest"
	"github.com/medify/pedidos/internal/service/ratelimit"
	"github.com/medify/pedidos/internal/service/weblock"
	"github.com/medify/pedidos/internal/storage/memory"
)

type fixture struct {
	store      *memory.Store
	orders     domain.OrderRepository
	outbox     domain.OutboxRepository
	provider   *providertest.MockProvider
	locks      *weblock.Service
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	f := &fixture{
		store:    store,
		orders:   memory.NewOrderRepository(store),
		outbox:   memory.NewOutboxRepository(),
		provider: providertest.NewMockProvider(),
		locks:    weblock.NewService(memory.NewLockRepository(store)),
	}
	f.reconciler = NewReconciler(f.orders, f.provider, f.locks, nil, WithOutbox(f.outbox))

	return f
}

func (f *fixture) seedPendingOrder(t *testing.T) domain.Order {
	t.Helper()

	f.store.PutPrescription(domain.Prescription{ID: "rx-1", State: domain.PrescriptionStateQuoted})
	order, err := f.orders.CreateOrder(domain.NewOrderInput{
		UserID:         "user-1",
		PharmacyID:     "pharmacy-1",
		PrescriptionID: "rx-1",
		QuoteID:        "quote-1",
		Price:          1500,
	}, 5*time.Minute)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func paymentPayload(id string) map[string]any {
	return map[string]any{
		"type": "payment",
		"data": map[string]any{"id": id},
	}
}

func TestProcess_ApprovedPaymentSettlesOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            domain.ProviderStatusApproved,
		ExternalReference: order.ID,
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("expected processed, got %s", result)
	}

	settled, _ := f.orders.Get(order.ID)
	if settled.State != domain.OrderStatePaid || settled.PaymentID != "pay-1" {
		t.Errorf("unexpected order: %+v", settled)
	}
	if p, _ := f.store.Prescription("rx-1"); p.State != domain.PrescriptionStateFinalized {
		t.Errorf("expected finalized prescription, got %s", p.State)
	}

	events, _ := f.outbox.PullPending(10)
	if len(events) != 1 || events[0].Type != domain.EventOrderPaid {
		t.Errorf("expected order.paid event, got %+v", events)
	}
	if events[0].OrderID != order.ID || events[0].PaymentID != "pay-1" {
		t.Errorf("event must carry order and payment ids, got %+v", events[0])
	}
}

func TestProcess_DuplicateNotificationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            domain.ProviderStatusApproved,
		ExternalReference: order.ID,
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("first delivery: %s", result)
	}
	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultDuplicate {
		t.Fatalf("second delivery must be duplicate, got %s", result)
	}

	// Повтор не плодит события.
	events, _ := f.outbox.PullPending(10)
	if len(events) != 1 {
		t.Errorf("expected single event, got %d", len(events))
	}
}

func TestProcess_ConflictingPaymentDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            domain.ProviderStatusApproved,
		ExternalReference: order.ID,
	}
	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("first payment: %s", result)
	}

	// Второй платёж за тот же заказ.
	f.provider.Payment.ID = "pay-2"
	if result := f.reconciler.Process(paymentPayload("pay-2"), "ip-1"); result != ResultConflict {
		t.Fatalf("expected conflict, got %s", result)
	}

	settled, _ := f.orders.Get(order.ID)
	if settled.PaymentID != "pay-1" {
		t.Errorf("original payment must be preserved, got %s", settled.PaymentID)
	}
}

func TestProcess_RejectedPaymentUpdatesOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            domain.ProviderStatusRejected,
		ExternalReference: order.ID,
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("expected processed, got %s", result)
	}

	updated, _ := f.orders.Get(order.ID)
	if updated.State != domain.OrderStateRejected || updated.ProviderStatus != domain.ProviderStatusRejected {
		t.Errorf("unexpected order: %+v", updated)
	}
	// Рецепт не финализируется при отказе.
	if p, _ := f.store.Prescription("rx-1"); p.State != domain.PrescriptionStateQuoted {
		t.Errorf("prescription must stay quoted, got %s", p.State)
	}

	events, _ := f.outbox.PullPending(10)
	if len(events) != 1 || events[0].Type != domain.EventOrderRejected {
		t.Errorf("expected order.rejected event, got %+v", events)
	}
}

func TestProcess_PendingStatusKeepsOrderLive(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            domain.ProviderStatusInProcess,
		ExternalReference: order.ID,
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("expected processed, got %s", result)
	}

	updated, _ := f.orders.Get(order.ID)
	if updated.State != domain.OrderStatePending {
		t.Errorf("expected pendiente, got %s", updated.State)
	}
}

func TestProcess_MetadataFallbackResolvesOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:       "pay-1",
		Status:   domain.ProviderStatusApproved,
		Metadata: map[string]any{"pedido_id": order.ID},
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("expected processed via metadata fallback, got %s", result)
	}
}

func TestProcess_IgnoresNonPaymentNotification(t *testing.T) {
	f := newFixture(t)

	payload := map[string]any{"topic": "merchant_order", "resource": "https://x/merchant_orders/1"}
	if result := f.reconciler.Process(payload, "ip-1"); result != ResultIgnored {
		t.Fatalf("expected ignored, got %s", result)
	}
	if f.provider.GetPaymentCalls != 0 {
		t.Error("provider must not be called for non-payment notifications")
	}
}

func TestProcess_IgnoresMissingPaymentID(t *testing.T) {
	f := newFixture(t)

	if result := f.reconciler.Process(map[string]any{"type": "payment"}, "ip-1"); result != ResultIgnored {
		t.Fatalf("expected ignored, got %s", result)
	}
}

func TestProcess_UnknownStatusRecordedOnOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            "charged_back",
		ExternalReference: order.ID,
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("expected processed, got %s", result)
	}

	// Нераспознанный статус фиксируется на заказе как desconocido вместе с
	// сырым статусом провайдера, но без события и без финализации рецепта.
	updated, _ := f.orders.Get(order.ID)
	if updated.State != domain.OrderStateUnknown {
		t.Errorf("expected desconocido, got %s", updated.State)
	}
	if updated.PaymentID != "pay-1" || updated.ProviderStatus != "charged_back" {
		t.Errorf("expected payment trace on order, got %+v", updated)
	}
	if p, _ := f.store.Prescription("rx-1"); p.State != domain.PrescriptionStateQuoted {
		t.Errorf("prescription must stay quoted, got %s", p.State)
	}
	if events, _ := f.outbox.PullPending(10); len(events) != 0 {
		t.Errorf("unknown status must not emit events, got %+v", events)
	}
}

func TestProcess_MissingOrderIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            domain.ProviderStatusApproved,
		ExternalReference: "missing-order",
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultIgnored {
		t.Fatalf("expected ignored, got %s", result)
	}
}

func TestProcess_ProviderErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.provider.PaymentErr = errors.New("provider down")

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultError {
		t.Fatalf("expected error, got %s", result)
	}
}

func TestProcess_UnknownPaymentIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.provider.PaymentErr = domain.ErrPaymentNotFound

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultIgnored {
		t.Fatalf("expected ignored, got %s", result)
	}
}

func TestProcess_ConcurrentDeliveryIsLocked(t *testing.T) {
	f := newFixture(t)

	// Коллега уже держит lock этого платежа.
	if _, ok := f.locks.Acquire("pay-1"); !ok {
		t.Fatal("lock acquire must win")
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultLocked {
		t.Fatalf("expected locked, got %s", result)
	}
	if f.provider.GetPaymentCalls != 0 {
		t.Error("locked delivery must not reach the provider")
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(string, string) bool { return false }

func TestProcess_ThrottledNotification(t *testing.T) {
	f := newFixture(t)
	f.reconciler = NewReconciler(f.orders, f.provider, f.locks, denyLimiter{})

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultThrottled {
		t.Fatalf("expected throttled, got %s", result)
	}
	if f.provider.GetPaymentCalls != 0 {
		t.Error("throttled delivery must not reach the provider")
	}
}

func TestProcess_ThrottleIsPerPayment(t *testing.T) {
	f := newFixture(t)
	order := f.seedPendingOrder(t)
	limiter := ratelimit.NewMemoryLimiter(ratelimit.WithNamespaceLimit(ratelimit.NamespaceWebhook, 1))
	f.reconciler = NewReconciler(f.orders, f.provider, f.locks, limiter, WithOutbox(f.outbox))
	f.provider.Payment = domain.ProviderPayment{
		ID:                "pay-1",
		Status:            domain.ProviderStatusApproved,
		ExternalReference: order.ID,
	}

	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-1"); result != ResultProcessed {
		t.Fatalf("first delivery: %s", result)
	}

	// Лимит считается по payment id: повтор того же платежа режется,
	// даже когда уведомление приходит с другого адреса.
	if result := f.reconciler.Process(paymentPayload("pay-1"), "ip-2"); result != ResultThrottled {
		t.Fatalf("expected throttled repeat of the same payment, got %s", result)
	}

	// Другой платёж с того же адреса в лимит не упирается.
	f.provider.Payment.ID = "pay-2"
	if result := f.reconciler.Process(paymentPayload("pay-2"), "ip-1"); result == ResultThrottled {
		t.Fatal("different payment must not share the throttle window")
	}
}
