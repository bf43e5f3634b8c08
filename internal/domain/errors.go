package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего идентификатора аптеки.
	ErrPharmacyRequired = errors.New("pharmacy_id is required")
	// Ошибка отсутствующего идентификатора рецепта.
	ErrPrescriptionRequired = errors.New("prescription_id is required")
	// Ошибка отсутствующего идентификатора котировки.
	ErrQuoteRequired = errors.New("quote_id is required")
	// Ошибка неположительной цены.
	ErrPriceInvalid = errors.New("price must be greater than zero")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPrescriptionNotFound возвращается, если рецепт не найден.
	ErrPrescriptionNotFound = errors.New("prescription not found")
	// ErrQuoteNotFound возвращается, если котировка не найдена.
	ErrQuoteNotFound = errors.New("quote not found")
	// ErrPrescriptionNotReady — рецепт не в состоянии cotizado, платить по нему нельзя.
	ErrPrescriptionNotReady = errors.New("prescription is not ready for payment")
	// ErrQuoteNotReady — котировка не в состоянии cotizado.
	ErrQuoteNotReady = errors.New("quote is not ready for payment")
	// ErrPharmacyMismatch — аптека запроса не совпадает с аптекой котировки.
	ErrPharmacyMismatch = errors.New("pharmacy does not match quote")
	// ErrProviderNotConfigured — у провайдера не задан access token.
	ErrProviderNotConfigured = errors.New("payment provider is not configured")
	// ErrPaymentNotFound — провайдер не знает такой платёж.
	ErrPaymentNotFound = errors.New("payment not found at provider")
	// ErrProviderUnavailable — временная ошибка при обращении к провайдеру, можно повторить.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// DuplicateOrderError сигнализирует, что для пары (пользователь, рецепт) уже
// существует живой заказ. RetryAfter > 0 означает, что существующий pending-заказ
// ещё не истёк и повтор возможен после указанного интервала.
type DuplicateOrderError struct {
	PrescriptionID string
	State          OrderState
	RetryAfter     time.Duration
}

func (e *DuplicateOrderError) Error() string {
	if e.State == OrderStatePaid {
		return fmt.Sprintf("prescription %s already has a paid order", e.PrescriptionID)
	}
	minutes := int(e.RetryAfter.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("prescription %s already has an order in progress, retry after %d minute(s)", e.PrescriptionID, minutes)
}

// IsDuplicateOrder проверяет, является ли ошибка конфликтом дублирующегося заказа.
func IsDuplicateOrder(err error) bool {
	var dup *DuplicateOrderError
	return errors.As(err, &dup)
}
