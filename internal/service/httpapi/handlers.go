package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/service/checkout"
	"github.com/medify/pedidos/internal/service/reconcile"
)

type createPreferenceRequest struct {
	UserID         string `json:"user_id"`
	PrescriptionID string `json:"prescription_id"`
	QuoteID        string `json:"quote_id"`
	PharmacyID     string `json:"pharmacy_id,omitempty"`
}

type createPreferenceResponse struct {
	OrderID      string `json:"order_id"`
	PreferenceID string `json:"preference_id"`
	PaymentURL   string `json:"payment_url"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	State          string  `json:"state"`
	UserID         string  `json:"user_id"`
	PharmacyID     string  `json:"pharmacy_id"`
	PrescriptionID string  `json:"prescription_id"`
	QuoteID        string  `json:"quote_id"`
	Price          float64 `json:"price"`
	PaymentID      string  `json:"payment_id,omitempty"`
	ProviderStatus string  `json:"provider_status,omitempty"`
	CreatedAt      string  `json:"created_at"`
	PaidAt         string  `json:"paid_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func (s *Server) handleCreatePreference(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req createPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordCheckout("invalid", started)
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := s.checkout.Checkout(checkout.Input{
		UserID:         req.UserID,
		PrescriptionID: req.PrescriptionID,
		QuoteID:        req.QuoteID,
		PharmacyID:     req.PharmacyID,
	})
	if err != nil {
		s.writeCheckoutError(w, err, started)
		return
	}

	s.recordCheckout("created", started)
	writeJSON(w, http.StatusCreated, createPreferenceResponse{
		OrderID:      result.Order.ID,
		PreferenceID: result.Preference.ID,
		PaymentURL:   result.Preference.InitPoint,
	})
}

// writeCheckoutError отображает ошибки checkout на HTTP-статусы. Дубликат —
// это не ошибка клиента, а защита от двойной оплаты, поэтому ответ несёт
// Retry-After с остатком порога свежести.
func (s *Server) writeCheckoutError(w http.ResponseWriter, err error, started time.Time) {
	var dup *domain.DuplicateOrderError
	if errors.As(err, &dup) {
		s.recordCheckout("duplicate", started)
		if dup.RetryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(dup.RetryAfter.Seconds())+1))
		}
		writeError(w, http.StatusConflict, dup.Error())
		return
	}

	switch {
	case errors.Is(err, domain.ErrPrescriptionNotFound), errors.Is(err, domain.ErrQuoteNotFound):
		s.recordCheckout("not_found", started)
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPrescriptionNotReady),
		errors.Is(err, domain.ErrQuoteNotReady),
		errors.Is(err, domain.ErrPharmacyMismatch),
		errors.Is(err, domain.ErrPriceInvalid),
		errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrPrescriptionRequired),
		errors.Is(err, domain.ErrQuoteRequired):
		s.recordCheckout("invalid", started)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrProviderNotConfigured):
		s.recordCheckout("provider_error", started)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable):
		s.recordCheckout("provider_error", started)
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		s.recordCheckout("error", started)
		s.logger.WithError(err).Error("checkout failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleWebhook принимает уведомление провайдера и всегда подтверждает
// приём 200-м: провайдер ретраит любой не-2xx, а повторная доставка того же
// уведомления ничего не изменит. Ошибки обработки остаются в логах и
// метриках; упавший платёж провайдер всё равно пришлёт снова по своему
// собственному расписанию ретраев.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordWebhook(time.Since(started))
		}
	}()

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		// Нечитаемое тело подтверждаем: провайдер пришлёт тот же мусор снова.
		s.logger.WithError(err).Warn("unreadable webhook body")
		writeJSON(w, http.StatusOK, map[string]string{"status": string(reconcile.ResultIgnored)})
		return
	}

	if s.signatures != nil && s.signatures.Enabled() {
		dataID := r.URL.Query().Get("data.id")
		if dataID == "" {
			dataID = reconcile.ParseNotification(payload).PaymentID
		}
		if err := s.signatures.Validate(r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID); err != nil {
			// Подпись не сошлась — уведомление не обрабатываем, но провайдеру
			// отвечаем 200, чтобы не провоцировать шторм ретраев.
			s.logger.WithError(err).WithField("client", clientKey(r)).Warn("webhook signature rejected")
			writeJSON(w, http.StatusOK, map[string]string{"status": string(reconcile.ResultIgnored)})
			return
		}
	}

	result := s.reconciler.Process(payload, clientKey(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(result)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := s.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.WithError(err).WithField("order_id", orderID).Error("order lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := orderResponse{
		ID:             order.ID,
		State:          string(order.State),
		UserID:         order.UserID,
		PharmacyID:     order.PharmacyID,
		PrescriptionID: order.PrescriptionID,
		QuoteID:        order.QuoteID,
		Price:          order.Price,
		PaymentID:      order.PaymentID,
		ProviderStatus: order.ProviderStatus,
		CreatedAt:      order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !order.PaidAt.IsZero() {
		resp.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)

	if s.metrics != nil && order.State == domain.OrderStatePaid {
		s.metrics.RecordTimeToPayment(order.CreatedAt, order.PaidAt)
	}
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	if !s.provider.IsConfigured() {
		writeError(w, http.StatusServiceUnavailable, "payment provider is not configured")
		return
	}

	payment, err := s.provider.GetPayment(paymentID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
		return
	default:
		s.logger.WithError(err).WithField("payment_id", paymentID).Warn("payment lookup failed")
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 payment.ID,
		"status":             payment.Status,
		"external_reference": payment.ExternalReference,
	})
}

func (s *Server) handleCleanupRun(w http.ResponseWriter, _ *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup is not enabled")
		return
	}

	abandoned := s.sweeper.SweepNow()
	s.logger.WithField("abandoned", abandoned).Info("manual cleanup triggered")
	writeJSON(w, http.StatusOK, map[string]int{"abandoned": abandoned})
}

func (s *Server) recordCheckout(outcome string, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCheckout(outcome, time.Since(started))
}
