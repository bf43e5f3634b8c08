package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/medify/pedidos/internal/provider/mercadopago"
	"github.com/medify/pedidos/internal/security"
	"github.com/medify/pedidos/internal/service/checkout"
	"github.com/medify/pedidos/internal/service/cleanup"
	"github.com/medify/pedidos/internal/service/ratelimit"
	"github.com/medify/pedidos/internal/service/weblock"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Все значения переопределяются
// переменными окружения с префиксом PEDIDOS_.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	CheckoutFreshness time.Duration
	PendingAge        time.Duration
	SweepInterval     time.Duration
	SweepInitialDelay time.Duration
	LockTTL           time.Duration

	RateWindow       time.Duration
	RateLimitGeneral int
	RateLimitWebhook int

	ProviderAccessToken     string
	ProviderBaseURL         string
	ProviderNotificationURL string
	ProviderBackURLBase     string
	ProviderTimeout         time.Duration

	WebhookSecret string

	KafkaBrokers string

	RedisAddr string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска на memory-хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		CheckoutFreshness: checkout.DefaultFreshness,
		PendingAge:        cleanup.DefaultPendingAge,
		SweepInterval:     cleanup.DefaultInterval,
		SweepInitialDelay: cleanup.DefaultInitialDelay,
		LockTTL:           weblock.DefaultTTL,

		RateWindow:       ratelimit.DefaultWindow,
		RateLimitGeneral: ratelimit.DefaultLimit,
		RateLimitWebhook: ratelimit.WebhookLimit,

		ProviderBaseURL: mercadopago.DefaultBaseURL,
		ProviderTimeout: 10 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   200 * time.Millisecond,
	}
}

// ConfigFromEnv читает конфигурацию из окружения поверх значений по умолчанию.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("PEDIDOS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("PEDIDOS_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = strings.ToLower(envString("PEDIDOS_STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = envString("PEDIDOS_POSTGRES_DSN", cfg.PostgresDSN)

	var err error
	if cfg.PostgresAutoMigrate, err = envBool("PEDIDOS_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate); err != nil {
		return Config{}, err
	}

	if cfg.CheckoutFreshness, err = envDuration("PEDIDOS_CHECKOUT_FRESHNESS", cfg.CheckoutFreshness); err != nil {
		return Config{}, err
	}
	if cfg.PendingAge, err = envDuration("PEDIDOS_PENDING_AGE", cfg.PendingAge); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDuration("PEDIDOS_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.SweepInitialDelay, err = envDuration("PEDIDOS_SWEEP_INITIAL_DELAY", cfg.SweepInitialDelay); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = envDuration("PEDIDOS_LOCK_TTL", cfg.LockTTL); err != nil {
		return Config{}, err
	}

	if cfg.RateWindow, err = envDuration("PEDIDOS_RATE_WINDOW", cfg.RateWindow); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitGeneral, err = envInt("PEDIDOS_RATE_LIMIT_GENERAL", cfg.RateLimitGeneral); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitWebhook, err = envInt("PEDIDOS_RATE_LIMIT_WEBHOOK", cfg.RateLimitWebhook); err != nil {
		return Config{}, err
	}

	cfg.ProviderAccessToken = envString("PEDIDOS_MP_ACCESS_TOKEN", cfg.ProviderAccessToken)
	cfg.ProviderBaseURL = envString("PEDIDOS_MP_BASE_URL", cfg.ProviderBaseURL)
	cfg.ProviderNotificationURL = envString("PEDIDOS_MP_NOTIFICATION_URL", cfg.ProviderNotificationURL)
	cfg.ProviderBackURLBase = envString("PEDIDOS_MP_BACK_URL_BASE", cfg.ProviderBackURLBase)
	if cfg.ProviderTimeout, err = envDuration("PEDIDOS_MP_TIMEOUT", cfg.ProviderTimeout); err != nil {
		return Config{}, err
	}

	cfg.WebhookSecret = envString("PEDIDOS_MP_WEBHOOK_SECRET", cfg.WebhookSecret)

	cfg.KafkaBrokers = envString("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.RedisAddr = envString("PEDIDOS_REDIS_ADDR", cfg.RedisAddr)

	if cfg.OutboxPollInterval, err = envDuration("PEDIDOS_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = envInt("PEDIDOS_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = envInt("PEDIDOS_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetryDelay, err = envDuration("PEDIDOS_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("storage driver %q requires PEDIDOS_POSTGRES_DSN", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q (use %s|%s)", c.StorageDriver, StorageDriverMemory, StorageDriverPostgres)
	}

	if c.RateLimitGeneral <= 0 || c.RateLimitWebhook <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

// signatureValidator собирает валидатор подписи webhook; без секрета он выключен.
func (c Config) signatureValidator() *security.SignatureValidator {
	return security.NewSignatureValidator(c.WebhookSecret)
}
