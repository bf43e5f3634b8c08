// Package security проверяет подпись webhook уведомлений MercadoPago.
// Провайдер подписывает уведомление HMAC-SHA256 по шаблону из заголовков
// x-signature и x-request-id.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxAge — максимально допустимый возраст подписи.
const DefaultMaxAge = 300 * time.Second

var (
	// ErrMissingSignature — заголовок x-signature отсутствует или не содержит ts/v1.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature — подпись не совпала.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrStaleSignature — подпись корректна, но слишком старая.
	ErrStaleSignature = errors.New("stale webhook signature")
)

// SignatureValidator проверяет подпись уведомлений. Пустой секрет выключает
// проверку: сервис продолжает принимать уведомления, но предупреждает в логе.
type SignatureValidator struct {
	secret string
	maxAge time.Duration
	logger *log.Entry

	now func() time.Time
}

// NewSignatureValidator создаёт validator с maxAge по умолчанию.
func NewSignatureValidator(secret string) *SignatureValidator {
	v := &SignatureValidator{
		secret: strings.TrimSpace(secret),
		maxAge: DefaultMaxAge,
		logger: log.WithField("component", "webhook_signature"),
		now:    time.Now,
	}
	if v.secret == "" {
		v.logger.Warn("webhook secret is not configured, signature validation is disabled")
	}
	return v
}

// Enabled сообщает, задан ли секрет.
func (v *SignatureValidator) Enabled() bool {
	return v.secret != ""
}

// Validate проверяет подпись уведомления о платеже dataID.
// Формат заголовка x-signature: "ts=<unix>,v1=<hex hmac>".
func (v *SignatureValidator) Validate(xSignature, xRequestID, dataID string) error {
	if !v.Enabled() {
		return nil
	}

	ts, v1, err := parseSignatureHeader(xSignature)
	if err != nil {
		return err
	}

	if err := v.checkFreshness(ts); err != nil {
		return err
	}

	template := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), xRequestID, ts)
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(template))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return ErrInvalidSignature
	}

	return nil
}

func parseSignatureHeader(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", ErrMissingSignature
	}
	return ts, v1, nil
}

// checkFreshness отклоняет подписи старше maxAge. Провайдер присылает unix
// timestamp в секундах или миллисекундах в зависимости от версии API.
func (v *SignatureValidator) checkFreshness(ts string) error {
	raw, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad ts value", ErrMissingSignature)
	}

	signedAt := time.Unix(raw, 0)
	if raw > 1_000_000_000_000 {
		signedAt = time.UnixMilli(raw)
	}

	age := v.now().Sub(signedAt)
	if age > v.maxAge || age < -v.maxAge {
		return ErrStaleSignature
	}

	return nil
}
