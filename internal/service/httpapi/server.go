// Package httpapi — HTTP-граница сервиса: создание заказа, приём webhook
// уведомлений провайдера и служебные ручки. Слой тонкий: вся бизнес-логика
// живёт в сервисах checkout и reconcile.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/metrics"
	"github.com/medify/pedidos/internal/security"
	"github.com/medify/pedidos/internal/service/checkout"
	"github.com/medify/pedidos/internal/service/cleanup"
	"github.com/medify/pedidos/internal/service/ratelimit"
	"github.com/medify/pedidos/internal/service/reconcile"
)

const requestTimeout = 15 * time.Second

// Server собирает HTTP-обработчики платёжного цикла.
type Server struct {
	checkout   *checkout.Service
	reconciler *reconcile.Reconciler
	orders     domain.OrderRepository
	provider   domain.PaymentProvider
	sweeper    *cleanup.Sweeper
	signatures *security.SignatureValidator
	limiter    ratelimit.Limiter
	metrics    *metrics.PaymentMetrics
	logger     *log.Entry
}

// Option настраивает Server.
type Option func(*Server)

// WithSweeper включает ручной запуск фоновой очистки через POST /internal/cleanup/run.
func WithSweeper(sweeper *cleanup.Sweeper) Option {
	return func(s *Server) {
		s.sweeper = sweeper
	}
}

// WithSignatureValidator включает проверку x-signature на webhook.
func WithSignatureValidator(validator *security.SignatureValidator) Option {
	return func(s *Server) {
		s.signatures = validator
	}
}

// WithLimiter включает общий rate limit на клиентские ручки.
// Webhook под это ограничение не попадает: у него свой лимит внутри reconciler.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithMetrics включает запись метрик платёжного цикла.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer создаёт HTTP-слой поверх сервисов платёжного цикла.
func NewServer(
	checkoutSvc *checkout.Service,
	reconciler *reconcile.Reconciler,
	orders domain.OrderRepository,
	provider domain.PaymentProvider,
	options ...Option,
) *Server {
	s := &Server{
		checkout:   checkoutSvc,
		reconciler: reconciler,
		orders:     orders,
		provider:   provider,
		logger:     log.WithField("component", "httpapi"),
	}
	for _, option := range options {
		option(s)
	}

	return s
}

// Router собирает маршруты сервиса.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/payments", func(r chi.Router) {
		// Webhook вне общего лимита: провайдер шлёт уведомления пачками, а
		// per-payment лимит применяет сам reconciler.
		r.Post("/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/preferences", s.handleCreatePreference)
			r.Get("/orders/{orderID}", s.handleGetOrder)
			r.Get("/{paymentID}", s.handleGetPayment)
		})
	})

	r.Post("/internal/cleanup/run", s.handleCleanupRun)

	return r
}

// clientKey извлекает идентификатор клиента для rate limiter: первый адрес из
// X-Forwarded-For, затем X-Real-IP, затем адрес соединения.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(ratelimit.NamespaceGeneral, clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
