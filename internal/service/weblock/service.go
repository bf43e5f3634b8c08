// Package weblock реализует распределённый lock обработки webhook уведомлений.
// Lock по payment id не даёт двум инстансам (или ретраю провайдера) обработать
// одно и то же уведомление параллельно.
package weblock

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
)

// DefaultTTL — время, после которого запись lock считается протухшей.
// Совпадает с максимальным разумным временем обработки одного уведомления.
const DefaultTTL = 300 * time.Second

// Service выдаёт и освобождает locks поверх LockRepository.
type Service struct {
	repo   domain.LockRepository
	ttl    time.Duration
	logger *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithTTL задаёт срок жизни lock.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService создаёт сервис locks с TTL по умолчанию.
func NewService(repo domain.LockRepository, options ...Option) *Service {
	s := &Service{
		repo:   repo,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "weblock"),
	}
	for _, option := range options {
		option(s)
	}

	return s
}

// Acquire пытается захватить lock обработки платежа. Возвращает ownerToken
// и true при успехе; false, если уведомление уже обрабатывается.
//
// Fail-open: ошибка хранилища не блокирует обработку — повторная доставка
// уведомления безопасна благодаря идемпотентному settle, а потерянное
// уведомление невосполнимо.
func (s *Service) Acquire(paymentID string) (string, bool) {
	token := uuid.NewString()

	acquired, err := s.repo.TryAcquire(paymentID, token, s.ttl)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).
			Warn("lock storage unavailable, proceeding without lock")
		return token, true
	}
	if !acquired {
		s.logger.WithField("payment_id", paymentID).Info("payment is already being processed")
		return "", false
	}

	return token, true
}

// Release снимает lock. Ошибка не фатальна: протухшая запись будет перехвачена
// или удалена фоновой чисткой.
func (s *Service) Release(paymentID string) {
	if err := s.repo.Release(paymentID); err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Warn("failed to release webhook lock")
	}
}

// PurgeExpired удаляет протухшие записи locks и возвращает их количество.
func (s *Service) PurgeExpired() int {
	removed, err := s.repo.DeleteExpired(s.ttl)
	if err != nil {
		s.logger.WithError(err).Warn("failed to purge expired webhook locks")
		return 0
	}
	return removed
}

// TTL возвращает настроенный срок жизни lock.
func (s *Service) TTL() time.Duration {
	return s.ttl
}
