package checkout

import (
	"errors"
	"testing"
	"time"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/provider/providertest"
	"github.com/medify/pedidos/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	provider *providertest.MockProvider
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	f := &fixture{
		store:    store,
		orders:   memory.NewOrderRepository(store),
		outbox:   memory.NewOutboxRepository(),
		provider: providertest.NewMockProvider(),
	}
	f.svc = NewService(
		f.orders,
		memory.NewPrescriptionRepository(store),
		memory.NewQuoteRepository(store),
		f.provider,
		WithOutbox(f.outbox),
	)

	f.store.PutPrescription(domain.Prescription{
		ID:     "rx-1",
		UserID: "user-1",
		State:  domain.PrescriptionStateQuoted,
	})
	f.store.PutQuote(domain.Quote{
		ID:             "quote-1",
		PrescriptionID: "rx-1",
		PharmacyID:     "pharmacy-1",
		State:          domain.QuoteStateQuoted,
		Price:          1500,
		CommercialName: "Amoxicilina 500",
	})

	return f
}

func validInput() Input {
	return Input{
		UserID:         "user-1",
		PrescriptionID: "rx-1",
		QuoteID:        "quote-1",
	}
}

func TestCheckout_HappyPath(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Checkout(validInput())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.State != domain.OrderStatePendingPayment {
		t.Errorf("unexpected order state: %s", result.Order.State)
	}
	if result.Order.Price != 1500 || result.Order.PharmacyID != "pharmacy-1" {
		t.Errorf("order must take price and pharmacy from the quote: %+v", result.Order)
	}
	if result.Preference.InitPoint == "" {
		t.Error("expected payment link")
	}

	// Preference ссылается на созданный заказ.
	if f.provider.LastPreferenceReq.OrderID != result.Order.ID {
		t.Errorf("preference must reference the order, got %q", f.provider.LastPreferenceReq.OrderID)
	}

	events, _ := f.outbox.PullPending(10)
	if len(events) != 1 || events[0].Type != domain.EventOrderCreated {
		t.Errorf("expected order.created event, got %+v", events)
	}
	if events[0].OrderID != result.Order.ID || events[0].Price != 1500 {
		t.Errorf("event must carry order fields, got %+v", events[0])
	}
}

func TestCheckout_DuplicateSuppression(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Checkout(validInput()); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	_, err := f.svc.Checkout(validInput())
	var dup *domain.DuplicateOrderError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateOrderError, got %v", err)
	}
	if dup.RetryAfter <= 0 {
		t.Errorf("expected remaining wait, got %v", dup.RetryAfter)
	}
	// Provider вызывается только на первом checkout.
	if f.provider.CreatePreferenceCalls != 1 {
		t.Errorf("expected 1 preference call, got %d", f.provider.CreatePreferenceCalls)
	}
}

func TestCheckout_ExpiredPendingIsReplaced(t *testing.T) {
	f := newFixture(t)

	f.store.PutOrder(domain.Order{
		ID:             "stale-1",
		UserID:         "user-1",
		PrescriptionID: "rx-1",
		State:          domain.OrderStatePendingPayment,
		CreatedAt:      time.Now().UTC().Add(-DefaultFreshness - time.Minute),
	})

	result, err := f.svc.Checkout(validInput())
	if err != nil {
		t.Fatalf("checkout after expired pending: %v", err)
	}
	if result.Order.ID == "stale-1" {
		t.Error("expected a fresh order")
	}
}

func TestCheckout_ValidationChain(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(f *fixture)
		input   Input
		wantErr error
	}{
		{
			name:    "provider not configured",
			prepare: func(f *fixture) { f.provider.Configured = false },
			input:   validInput(),
			wantErr: domain.ErrProviderNotConfigured,
		},
		{
			name:    "prescription missing",
			input:   Input{UserID: "user-1", PrescriptionID: "nope", QuoteID: "quote-1"},
			wantErr: domain.ErrPrescriptionNotFound,
		},
		{
			name:    "foreign prescription looks missing",
			input:   Input{UserID: "intruder", PrescriptionID: "rx-1", QuoteID: "quote-1"},
			wantErr: domain.ErrPrescriptionNotFound,
		},
		{
			name: "prescription not quoted yet",
			prepare: func(f *fixture) {
				f.store.PutPrescription(domain.Prescription{
					ID: "rx-1", UserID: "user-1", State: domain.PrescriptionStateAwaiting,
				})
			},
			input:   validInput(),
			wantErr: domain.ErrPrescriptionNotReady,
		},
		{
			name:    "quote missing",
			input:   Input{UserID: "user-1", PrescriptionID: "rx-1", QuoteID: "nope"},
			wantErr: domain.ErrQuoteNotFound,
		},
		{
			name: "quote expired",
			prepare: func(f *fixture) {
				f.store.PutQuote(domain.Quote{
					ID: "quote-1", PrescriptionID: "rx-1", PharmacyID: "pharmacy-1",
					State: domain.QuoteStateExpired, Price: 1500,
				})
			},
			input:   validInput(),
			wantErr: domain.ErrQuoteNotReady,
		},
		{
			name: "pharmacy mismatch",
			input: Input{
				UserID: "user-1", PrescriptionID: "rx-1", QuoteID: "quote-1",
				PharmacyID: "other-pharmacy",
			},
			wantErr: domain.ErrPharmacyMismatch,
		},
		{
			name: "non-positive price",
			prepare: func(f *fixture) {
				f.store.PutQuote(domain.Quote{
					ID: "quote-1", PrescriptionID: "rx-1", PharmacyID: "pharmacy-1",
					State: domain.QuoteStateQuoted, Price: 0,
				})
			},
			input:   validInput(),
			wantErr: domain.ErrPriceInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.prepare != nil {
				tc.prepare(f)
			}

			_, err := f.svc.Checkout(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
			// Ни один невалидный запрос не должен дойти до создания заказа.
			if f.provider.CreatePreferenceCalls != 0 {
				t.Error("preference must not be created for invalid input")
			}
		})
	}
}

func TestCheckout_CompensatesOnPreferenceFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.PreferenceErr = errors.New("provider down")

	if _, err := f.svc.Checkout(validInput()); err == nil {
		t.Fatal("expected checkout failure")
	}

	// Заказ удалён, немедленный повтор не блокируется дублем.
	f.provider.PreferenceErr = nil
	if _, err := f.svc.Checkout(validInput()); err != nil {
		t.Fatalf("retry after compensation: %v", err)
	}

	// Событие создаётся только для успешного checkout.
	events, _ := f.outbox.PullPending(10)
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}
