// Package checkout создаёт заказ по котировке аптеки и платёжную preference
// у провайдера. Заказ и preference создаются строго в этом порядке: заказ без
// ссылки на оплату бесполезен и компенсируется удалением.
package checkout

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
)

// DefaultFreshness — порог, в течение которого существующий неоплаченный заказ
// блокирует создание нового для той же пары (пользователь, рецепт).
const DefaultFreshness = 5 * time.Minute

// Input — запрос покупателя на оплату котировки.
type Input struct {
	UserID         string
	PrescriptionID string
	QuoteID        string
	// PharmacyID опционален; если задан, обязан совпадать с аптекой котировки.
	PharmacyID string
}

// Result — созданный заказ со ссылкой на оплату.
type Result struct {
	Order      domain.Order
	Preference domain.Preference
}

// Service оркестрирует создание заказа.
type Service struct {
	orders        domain.OrderRepository
	prescriptions domain.PrescriptionRepository
	quotes        domain.QuoteRepository
	provider      domain.PaymentProvider
	outbox        domain.OutboxRepository
	freshness     time.Duration
	logger        *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithFreshness задаёт порог подавления дублирующих заказов.
func WithFreshness(freshness time.Duration) Option {
	return func(s *Service) {
		if freshness > 0 {
			s.freshness = freshness
		}
	}
}

// WithOutbox включает публикацию order.created событий.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService создаёт checkout-сервис.
func NewService(
	orders domain.OrderRepository,
	prescriptions domain.PrescriptionRepository,
	quotes domain.QuoteRepository,
	provider domain.PaymentProvider,
	options ...Option,
) *Service {
	s := &Service{
		orders:        orders,
		prescriptions: prescriptions,
		quotes:        quotes,
		provider:      provider,
		freshness:     DefaultFreshness,
		logger:        log.WithField("component", "checkout"),
	}
	for _, option := range options {
		option(s)
	}

	return s
}

// Checkout валидирует котировку, создаёт заказ и платёжную preference.
// Цена заказа всегда берётся из котировки, никогда из запроса клиента.
func (s *Service) Checkout(in Input) (Result, error) {
	if !s.provider.IsConfigured() {
		return Result{}, domain.ErrProviderNotConfigured
	}

	prescription, err := s.prescriptions.Get(in.PrescriptionID)
	if err != nil {
		return Result{}, err
	}
	// Чужой рецепт неотличим от несуществующего.
	if prescription.UserID != "" && prescription.UserID != in.UserID {
		return Result{}, domain.ErrPrescriptionNotFound
	}
	if prescription.State != domain.PrescriptionStateQuoted {
		return Result{}, domain.ErrPrescriptionNotReady
	}

	quote, err := s.quotes.Get(in.PrescriptionID, in.QuoteID)
	if err != nil {
		return Result{}, err
	}
	if quote.State != domain.QuoteStateQuoted {
		return Result{}, domain.ErrQuoteNotReady
	}
	if in.PharmacyID != "" && in.PharmacyID != quote.PharmacyID {
		return Result{}, domain.ErrPharmacyMismatch
	}
	if quote.Price <= 0 {
		return Result{}, domain.ErrPriceInvalid
	}

	orderInput := domain.NewOrderInput{
		UserID:         in.UserID,
		PharmacyID:     quote.PharmacyID,
		PrescriptionID: in.PrescriptionID,
		QuoteID:        in.QuoteID,
		Price:          quote.Price,
	}
	if errs := orderInput.Validate(); len(errs) > 0 {
		return Result{}, errors.Join(errs...)
	}

	order, err := s.orders.CreateOrder(orderInput, s.freshness)
	if err != nil {
		return Result{}, err
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  in.UserID,
	})

	preference, err := s.provider.CreatePreference(domain.PreferenceRequest{
		OrderID:        order.ID,
		PrescriptionID: in.PrescriptionID,
		QuoteID:        in.QuoteID,
		PharmacyID:     quote.PharmacyID,
		UserID:         in.UserID,
		Title:          quote.CommercialName,
		Description:    quote.Description,
		ImageURL:       prescription.ImageURL,
		Price:          quote.Price,
	})
	if err != nil {
		// Компенсация: заказ без ссылки на оплату удаляется, чтобы не блокировать
		// повторный checkout на весь порог свежести.
		if delErr := s.orders.Delete(order.ID); delErr != nil {
			logger.WithError(delErr).Error("failed to compensate order after preference failure")
		}
		logger.WithError(err).Error("preference creation failed")
		return Result{}, fmt.Errorf("create payment preference: %w", err)
	}

	logger.WithField("preference_id", preference.ID).Info("order created")
	s.enqueueCreatedEvent(order)

	return Result{Order: order, Preference: preference}, nil
}

func (s *Service) enqueueCreatedEvent(order domain.Order) {
	if s.outbox == nil {
		return
	}

	if _, err := s.outbox.Enqueue(domain.OrderEvent{
		Type:           domain.EventOrderCreated,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PharmacyID:     order.PharmacyID,
		PrescriptionID: order.PrescriptionID,
		Price:          order.Price,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order created event")
	}
}
