// Package providertest — конфигурируемая заглушка платёжного провайдера
// для тестов и локального запуска без доступа к MercadoPago.
package providertest

import "github.com/medify/pedidos/internal/domain"

// MockProvider возвращает заранее настроенные ответы и считает вызовы.
type MockProvider struct {
	Configured bool

	Payment    domain.ProviderPayment
	PaymentErr error

	Preference    domain.Preference
	PreferenceErr error

	GetPaymentCalls       int
	CreatePreferenceCalls int
	LastPreferenceReq     domain.PreferenceRequest
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Configured: true,
		Payment: domain.ProviderPayment{
			ID:     "pay-1",
			Status: domain.ProviderStatusApproved,
		},
		Preference: domain.Preference{
			ID:        "pref-1",
			InitPoint: "https://provider.example/checkout/pref-1",
		},
	}
}

// IsConfigured возвращает настроенный флаг.
func (m *MockProvider) IsConfigured() bool {
	return m.Configured
}

// GetPayment возвращает заранее настроенный платёж и считает вызовы.
func (m *MockProvider) GetPayment(paymentID string) (domain.ProviderPayment, error) {
	m.GetPaymentCalls++
	if m.PaymentErr != nil {
		return domain.ProviderPayment{}, m.PaymentErr
	}
	payment := m.Payment
	if payment.ID == "" {
		payment.ID = paymentID
	}
	return payment, nil
}

// CreatePreference возвращает настроенную preference и запоминает запрос.
func (m *MockProvider) CreatePreference(req domain.PreferenceRequest) (domain.Preference, error) {
	m.CreatePreferenceCalls++
	m.LastPreferenceReq = req
	if m.PreferenceErr != nil {
		return domain.Preference{}, m.PreferenceErr
	}
	return m.Preference, nil
}

var _ domain.PaymentProvider = (*MockProvider)(nil)
