package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Notification — разобранное webhook уведомление провайдера. Уведомление
// несёт только тип и идентификатор платежа; статус перечитывается у провайдера.
type Notification struct {
	Type      string
	PaymentID string
}

// IsPayment сообщает, относится ли уведомление к платежу.
func (n Notification) IsPayment() bool {
	return strings.EqualFold(n.Type, "payment")
}

// ParseNotification извлекает тип и идентификатор платежа из сырого payload.
// Провайдер менял формат несколько раз, поэтому идентификатор ищется в трёх
// местах по убыванию приоритета: data.id, последний сегмент resource URL,
// корневое поле id.
func ParseNotification(payload map[string]any) Notification {
	n := Notification{
		Type: stringField(payload, "type"),
	}
	if n.Type == "" {
		n.Type = stringField(payload, "topic")
	}

	if data, ok := payload["data"].(map[string]any); ok {
		n.PaymentID = stringField(data, "id")
	}
	if n.PaymentID == "" {
		if resource := stringField(payload, "resource"); resource != "" {
			n.PaymentID = lastURLSegment(resource)
		}
	}
	if n.PaymentID == "" {
		n.PaymentID = stringField(payload, "id")
	}

	return n
}

// stringField достаёт строковое представление поля: провайдер присылает
// идентификаторы то строками, то числами.
func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", value), ".")
	default:
		return ""
	}
}

func lastURLSegment(resource string) string {
	resource = strings.TrimRight(strings.TrimSpace(resource), "/")
	if idx := strings.LastIndex(resource, "/"); idx >= 0 {
		return resource[idx+1:]
	}
	return resource
}
