package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Статусы платежа, которые присылает провайдер.
const (
	ProviderStatusApproved    = "approved"
	ProviderStatusRejected    = "rejected"
	ProviderStatusCancelled   = "cancelled"
	ProviderStatusPending     = "pending"
	ProviderStatusInProcess   = "in_process"
	ProviderStatusInMediation = "in_mediation"
)

// OrderStateForProviderStatus отображает статус провайдера на статус заказа.
// Нераспознанные статусы отображаются в OrderStateUnknown; решение, логировать ли
// их как аномалию, принимает вызывающая сторона.
func OrderStateForProviderStatus(status string) OrderState {
	switch strings.ToLower(status) {
	case ProviderStatusApproved:
		return OrderStatePaid
	case ProviderStatusRejected:
		return OrderStateRejected
	case ProviderStatusCancelled:
		return OrderStateCancelled
	case ProviderStatusPending, ProviderStatusInProcess, ProviderStatusInMediation:
		return OrderStatePending
	default:
		return OrderStateUnknown
	}
}

// ProviderPayment — авторитетное состояние платежа, полученное от провайдера.
// Webhook несёт только идентификатор; статус всегда перечитывается этим объектом.
type ProviderPayment struct {
	ID                string
	Status            string
	ExternalReference string
	Metadata          map[string]any
}

// OrderID возвращает идентификатор заказа из external reference, с fallback
// на metadata-поле pedido_id (старые preference складывали его только туда).
func (p ProviderPayment) OrderID() string {
	if ref := strings.TrimSpace(p.ExternalReference); ref != "" {
		return ref
	}
	if p.Metadata != nil {
		if v, ok := p.Metadata["pedido_id"]; ok && v != nil {
			if s := strings.TrimSpace(toString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// toString приводит значение из metadata к строке: провайдер присылает
// идентификаторы то строками, то числами.
func toString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", value), ".")
	default:
		return ""
	}
}

// PreferenceRequest — данные для создания платёжной preference у провайдера.
type PreferenceRequest struct {
	OrderID        string
	PrescriptionID string
	QuoteID        string
	PharmacyID     string
	UserID         string
	Title          string
	Description    string
	ImageURL       string
	Price          float64
}

// Preference — созданная у провайдера preference со ссылкой на оплату.
type Preference struct {
	ID        string
	InitPoint string
}
