package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitStorage_Memory(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.WithField("component", "test")

	storage, err := initStorage(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initStorage: %v", err)
	}
	defer func() { _ = storage.close() }()

	if storage.orders == nil || storage.prescriptions == nil || storage.quotes == nil {
		t.Error("all repositories must be initialized")
	}
	if storage.locks == nil || storage.outbox == nil {
		t.Error("lock and outbox repositories must be initialized")
	}
	if err := storage.ping(context.Background()); err != nil {
		t.Errorf("memory ping must always succeed: %v", err)
	}
}

func TestInitStorage_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "cassandra"

	if _, err := initStorage(context.Background(), cfg, log.WithField("component", "test")); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestInitLimiter_MemoryByDefault(t *testing.T) {
	limiter, client := initLimiter(DefaultConfig(), log.WithField("component", "test"))
	if limiter == nil {
		t.Fatal("limiter must not be nil")
	}
	if client != nil {
		t.Error("redis client must not be created without an address")
	}

	if !limiter.Allow("general", "10.0.0.1") {
		t.Error("first request must pass")
	}
}
