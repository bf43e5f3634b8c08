// Package mercadopago — HTTP-клиент платёжного провайдера MercadoPago.
// Webhook провайдера несёт только идентификатор платежа, поэтому статус
// всегда перечитывается через GetPayment.
package mercadopago

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
)

const (
	// DefaultBaseURL — production API MercadoPago.
	DefaultBaseURL = "https://api.mercadopago.com"

	defaultTimeout = 10 * time.Second

	// preferenceExpiry — окно, в течение которого ссылка на оплату действительна.
	preferenceExpiry = 10 * time.Minute

	currencyID = "ARS"
)

// Config задаёт параметры клиента MercadoPago.
type Config struct {
	// AccessToken — секретный токен приложения. Пустой токен означает, что
	// провайдер не сконфигурирован и checkout недоступен.
	AccessToken string
	// BaseURL переопределяет адрес API; пустое значение — production.
	BaseURL string
	// NotificationURL — публичный адрес webhook этого сервиса.
	NotificationURL string
	// BackURLBase — база для ссылок возврата покупателя после оплаты.
	BackURLBase string
	// Timeout ограничивает каждый HTTP-запрос к провайдеру.
	Timeout time.Duration
}

// Client реализует domain.PaymentProvider поверх REST API MercadoPago.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Entry
}

// NewClient создаёт клиент MercadoPago.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log.WithField("component", "mercadopago"),
	}
}

// IsConfigured сообщает, задан ли access token.
func (c *Client) IsConfigured() bool {
	return strings.TrimSpace(c.cfg.AccessToken) != ""
}

type paymentResponse struct {
	ID                json.Number    `json:"id"`
	Status            string         `json:"status"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
}

// GetPayment возвращает авторитетное состояние платежа.
func (c *Client) GetPayment(paymentID string) (domain.ProviderPayment, error) {
	if !c.IsConfigured() {
		return domain.ProviderPayment{}, domain.ErrProviderNotConfigured
	}

	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return domain.ProviderPayment{}, fmt.Errorf("build payment request: %w", err)
	}

	body, status, err := c.do(req)
	if err != nil {
		return domain.ProviderPayment{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return domain.ProviderPayment{}, domain.ErrPaymentNotFound
	case status < 200 || status >= 300:
		return domain.ProviderPayment{}, fmt.Errorf("provider returned status %d for payment %s: %w",
			status, paymentID, domain.ErrProviderUnavailable)
	}

	var resp paymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ProviderPayment{}, fmt.Errorf("decode payment response: %w", err)
	}

	return domain.ProviderPayment{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		ExternalReference: resp.ExternalReference,
		Metadata:          resp.Metadata,
	}, nil
}

type preferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	PictureURL  string  `json:"picture_url,omitempty"`
	Quantity    int     `json:"quantity"`
	CurrencyID  string  `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferencePayload struct {
	Items               []preferenceItem   `json:"items"`
	ExternalReference   string             `json:"external_reference"`
	Metadata            map[string]string  `json:"metadata"`
	NotificationURL     string             `json:"notification_url,omitempty"`
	BackURLs            preferenceBackURLs `json:"back_urls"`
	ExpirationDateTo    string             `json:"expiration_date_to"`
	Expires             bool               `json:"expires"`
	StatementDescriptor string             `json:"statement_descriptor"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreatePreference создаёт preference и возвращает ссылку на оплату.
// Идентификатор заказа кладётся и в external_reference, и в metadata.pedido_id:
// webhook обязан уметь восстановить заказ по любому из двух полей.
func (c *Client) CreatePreference(req domain.PreferenceRequest) (domain.Preference, error) {
	if !c.IsConfigured() {
		return domain.Preference{}, domain.ErrProviderNotConfigured
	}

	payload := preferencePayload{
		Items: []preferenceItem{{
			ID:          req.QuoteID,
			Title:       req.Title,
			Description: req.Description,
			PictureURL:  req.ImageURL,
			Quantity:    1,
			CurrencyID:  currencyID,
			UnitPrice:   req.Price,
		}},
		ExternalReference: req.OrderID,
		Metadata: map[string]string{
			"pedido_id":   req.OrderID,
			"receta_id":   req.PrescriptionID,
			"user_id":     req.UserID,
			"farmacia_id": req.PharmacyID,
		},
		NotificationURL:     c.cfg.NotificationURL,
		ExpirationDateTo:    time.Now().UTC().Add(preferenceExpiry).Format(time.RFC3339),
		Expires:             true,
		StatementDescriptor: statementDescriptor(req.Title),
	}
	if base := strings.TrimRight(c.cfg.BackURLBase, "/"); base != "" {
		payload.BackURLs = preferenceBackURLs{
			Success: base + "/pago/exito",
			Failure: base + "/pago/error",
			Pending: base + "/pago/pendiente",
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Preference{}, fmt.Errorf("marshal preference payload: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return domain.Preference{}, fmt.Errorf("build preference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	respBody, status, err := c.do(httpReq)
	if err != nil {
		return domain.Preference{}, err
	}
	if status < 200 || status >= 300 {
		c.logger.WithFields(log.Fields{
			"status":   status,
			"order_id": req.OrderID,
		}).Error("preference creation rejected by provider")
		return domain.Preference{}, fmt.Errorf("provider returned status %d for preference: %w",
			status, domain.ErrProviderUnavailable)
	}

	var resp preferenceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.Preference{}, fmt.Errorf("decode preference response: %w", err)
	}

	return domain.Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call provider: %w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read provider response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// statementDescriptor формирует строку для банковской выписки покупателя.
func statementDescriptor(title string) string {
	const prefix = "MEDIFY"
	title = strings.TrimSpace(title)
	if title == "" {
		return prefix
	}
	descriptor := prefix + " - " + title
	// Провайдер обрезает выписку до 22 символов; режем сами, чтобы не терять префикс.
	if len(descriptor) > 22 {
		descriptor = descriptor[:22]
	}
	return descriptor
}

var _ domain.PaymentProvider = (*Client)(nil)
