package domain

import "time"

// PrescriptionState описывает состояние рецепта (receta).
type PrescriptionState string

const (
	// PrescriptionStateAwaiting — рецепт загружен, аптеки ещё не ответили.
	PrescriptionStateAwaiting PrescriptionState = "esperando_respuestas"
	// PrescriptionStateQuoted — аптеки прислали котировки, рецепт готов к оплате.
	PrescriptionStateQuoted PrescriptionState = "cotizado"
	// PrescriptionStateFinalized — заказ по рецепту оплачен; новые котировки и платежи запрещены.
	PrescriptionStateFinalized PrescriptionState = "finalizada"
)

// Prescription — медицинский рецепт, за который в итоге платит заказ.
type Prescription struct {
	ID        string
	UserID    string
	State     PrescriptionState
	ImageURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuoteState описывает состояние котировки аптеки.
type QuoteState string

const (
	// QuoteStateQuoted — аптека назвала цену, котировка готова к оплате.
	QuoteStateQuoted QuoteState = "cotizado"
	// QuoteStateExpired — котировка больше не действительна.
	QuoteStateExpired QuoteState = "expirada"
)

// Quote — ответ аптеки на рецепт с ценой.
type Quote struct {
	ID             string
	PrescriptionID string
	PharmacyID     string
	State          QuoteState
	Price          float64
	CommercialName string
	Description    string
	CreatedAt      time.Time
}
