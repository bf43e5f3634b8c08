// Package app собирает сервис из компонентов: хранилище, платёжный провайдер,
// rate limiter, фоновые воркеры и HTTP-серверы.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/medify/pedidos/internal/health"
	"github.com/medify/pedidos/internal/messaging/kafka"
	"github.com/medify/pedidos/internal/metrics"
	"github.com/medify/pedidos/internal/provider/mercadopago"
	"github.com/medify/pedidos/internal/service/checkout"
	"github.com/medify/pedidos/internal/service/cleanup"
	"github.com/medify/pedidos/internal/service/httpapi"
	"github.com/medify/pedidos/internal/service/outbox"
	"github.com/medify/pedidos/internal/service/ratelimit"
	"github.com/medify/pedidos/internal/service/reconcile"
	"github.com/medify/pedidos/internal/service/weblock"
	"github.com/medify/pedidos/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены контекста или фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	storage, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	limiter, redisClient := initLimiter(cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	locks := weblock.NewService(storage.locks, weblock.WithTTL(cfg.LockTTL))

	provider := mercadopago.NewClient(mercadopago.Config{
		AccessToken:     cfg.ProviderAccessToken,
		BaseURL:         cfg.ProviderBaseURL,
		NotificationURL: cfg.ProviderNotificationURL,
		BackURLBase:     cfg.ProviderBackURLBase,
		Timeout:         cfg.ProviderTimeout,
	})
	if !provider.IsConfigured() {
		logger.Warn("payment provider access token is not set, checkout is disabled")
	}

	kafkaProducer := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	if kafkaProducer != nil {
		dispatcher := outbox.NewDispatcher(
			storage.outbox,
			kafka.NewOrderEventPublisher(kafkaProducer, kafka.TopicOrderEvents),
			outbox.WithDLQPublisher(kafka.NewDeadLetterPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithLogger(logger.WithField("component", "outbox_dispatcher")),
		)
		go dispatcher.Run(ctx)
	}

	checkoutSvc := checkout.NewService(
		storage.orders,
		storage.prescriptions,
		storage.quotes,
		provider,
		checkout.WithFreshness(cfg.CheckoutFreshness),
		checkout.WithOutbox(storage.outbox),
	)

	reconciler := reconcile.NewReconciler(
		storage.orders,
		provider,
		locks,
		limiter,
		reconcile.WithOutbox(storage.outbox),
	)

	sweeper := cleanup.NewSweeper(
		storage.orders,
		cleanup.WithInterval(cfg.SweepInterval),
		cleanup.WithInitialDelay(cfg.SweepInitialDelay),
		cleanup.WithPendingAge(cfg.PendingAge),
		cleanup.WithLockPurge(locks),
		cleanup.WithOutbox(storage.outbox),
	)
	go sweeper.Run(ctx)

	server := httpapi.NewServer(
		checkoutSvc,
		reconciler,
		storage.orders,
		provider,
		httpapi.WithSweeper(sweeper),
		httpapi.WithSignatureValidator(cfg.signatureValidator()),
		httpapi.WithLimiter(limiter),
		httpapi.WithMetrics(metrics.NewPaymentMetrics()),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return storage.ping(pingCtx)
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initLimiter выбирает реализацию rate limiter: Redis, если адрес задан
// (лимит общий на все инстансы), иначе локальный in-memory.
func initLimiter(cfg Config, logger *log.Entry) (ratelimit.Limiter, *redis.Client) {
	limits := map[string]int{
		ratelimit.NamespaceGeneral: cfg.RateLimitGeneral,
		ratelimit.NamespaceWebhook: cfg.RateLimitWebhook,
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.WithField("addr", cfg.RedisAddr).Info("using redis rate limiter")
		return ratelimit.NewRedisLimiter(client, cfg.RateWindow, limits), client
	}

	return ratelimit.NewMemoryLimiter(
		ratelimit.WithWindow(cfg.RateWindow),
		ratelimit.WithNamespaceLimit(ratelimit.NamespaceGeneral, cfg.RateLimitGeneral),
		ratelimit.WithNamespaceLimit(ratelimit.NamespaceWebhook, cfg.RateLimitWebhook),
	), nil
}

// startMetricsServer запускает служебный HTTP-сервер: /metrics и health endpoints.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
