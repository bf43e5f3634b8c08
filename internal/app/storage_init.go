package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
	"github.com/medify/pedidos/internal/storage/memory"
	"github.com/medify/pedidos/internal/storage/postgres"
)

// storageSet — собранные репозитории поверх выбранного драйвера.
type storageSet struct {
	orders        domain.OrderRepository
	prescriptions domain.PrescriptionRepository
	quotes        domain.QuoteRepository
	locks         domain.LockRepository
	outbox        domain.OutboxRepository

	// ping проверяет доступность хранилища для health endpoint.
	ping func(ctx context.Context) error
	// close освобождает соединения; для memory это no-op.
	close func() error
}

// initStorage создаёт репозитории по драйверу из конфигурации.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storageSet, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Warn("using in-memory storage: orders will not survive a restart")
		store := memory.NewStore()
		return &storageSet{
			orders:        memory.NewOrderRepository(store),
			prescriptions: memory.NewPrescriptionRepository(store),
			quotes:        memory.NewQuoteRepository(store),
			locks:         memory.NewLockRepository(store),
			outbox:        memory.NewOutboxRepository(),
			ping:          func(context.Context) error { return nil },
			close:         func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("postgres storage initialized")
		return &storageSet{
			orders:        postgres.NewOrderRepository(store),
			prescriptions: postgres.NewPrescriptionRepository(store),
			quotes:        postgres.NewQuoteRepository(store),
			locks:         postgres.NewLockRepository(store),
			outbox:        postgres.NewOutboxRepository(store),
			ping:          store.Ping,
			close:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}
}
