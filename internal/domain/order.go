package domain

import (
	"strings"
	"time"
)

// OrderState описывает жизненный цикл заказа (pedido).
// Строковые значения совпадают с историческими значениями в хранилище.
type OrderState string

const (
	// OrderStatePendingPayment — заказ создан, пользователь ещё не завершил оплату.
	OrderStatePendingPayment OrderState = "pendiente_de_pago"
	// OrderStatePaid — оплата подтверждена платёжным провайдером. Терминальный статус.
	OrderStatePaid OrderState = "pagado"
	// OrderStateRejected — платёж отклонён провайдером. Терминальный статус.
	OrderStateRejected OrderState = "rechazado"
	// OrderStateCancelled — платёж отменён до завершения. Терминальный статус.
	OrderStateCancelled OrderState = "cancelado"
	// OrderStateAbandoned — пользователь бросил checkout, заказ закрыт фоновой очисткой.
	OrderStateAbandoned OrderState = "abandonada"
	// OrderStatePending — информационный статус для pending/in_process/in_mediation.
	OrderStatePending OrderState = "pendiente"
	// OrderStateUnknown — нераспознанный статус провайдера.
	OrderStateUnknown OrderState = "desconocido"
)

// IsTerminal сообщает, запрещены ли дальнейшие автоматические переходы.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStatePaid, OrderStateRejected, OrderStateCancelled, OrderStateAbandoned:
		return true
	}
	return false
}

// LiveOrderStates — статусы, при которых заказ блокирует создание нового заказа
// для той же пары (пользователь, рецепт). Легаси-статус "pendiente" учитывается,
// потому что старые записи создавались с ним до разделения статусов.
func LiveOrderStates() []OrderState {
	return []OrderState{OrderStatePendingPayment, OrderStatePaid, OrderStatePending}
}

// Order агрегирует одну попытку checkout: пользователь, аптека, рецепт и котировка,
// привязанные к жизненному циклу платежа.
type Order struct {
	ID             string
	UserID         string
	PharmacyID     string
	PrescriptionID string
	QuoteID        string
	Price          float64
	State          OrderState
	// PaymentID и ProviderStatus заполняются только после первого webhook.
	PaymentID      string
	ProviderStatus string
	CreatedAt      time.Time
	// PaidAt и ClosedAt нулевые, пока соответствующий переход не произошёл.
	PaidAt   time.Time
	ClosedAt time.Time
}

// NewOrderInput — входные данные для создания заказа.
type NewOrderInput struct {
	UserID         string
	PharmacyID     string
	PrescriptionID string
	QuoteID        string
	Price          float64
}

// Validate проверяет базовые инварианты входных данных и возвращает список замечаний.
func (in NewOrderInput) Validate() []error {
	var errs []error

	if strings.TrimSpace(in.UserID) == "" {
		errs = append(errs, ErrUserRequired)
	}
	if strings.TrimSpace(in.PharmacyID) == "" {
		errs = append(errs, ErrPharmacyRequired)
	}
	if strings.TrimSpace(in.PrescriptionID) == "" {
		errs = append(errs, ErrPrescriptionRequired)
	}
	if strings.TrimSpace(in.QuoteID) == "" {
		errs = append(errs, ErrQuoteRequired)
	}
	if in.Price <= 0 {
		errs = append(errs, ErrPriceInvalid)
	}

	return errs
}

// SettleOutcome — результат идемпотентной попытки отметить заказ оплаченным.
type SettleOutcome string

const (
	// SettleApplied — заказ переведён в pagado, рецепт финализирован той же транзакцией.
	SettleApplied SettleOutcome = "applied"
	// SettleDuplicate — заказ уже оплачен этим же payment id; операция уже применена.
	SettleDuplicate SettleOutcome = "duplicate"
	// SettleConflict — заказ оплачен другим payment id; аномалия данных, состояние не тронуто.
	SettleConflict SettleOutcome = "conflict"
	// SettleOrderMissing — заказ не найден; no-op.
	SettleOrderMissing SettleOutcome = "order_missing"
)
