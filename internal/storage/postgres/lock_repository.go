package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/medify/pedidos/internal/domain"
)

type lockRepository struct {
	db *sql.DB
}

// NewLockRepository создаёт PostgreSQL-реализацию LockRepository.
func NewLockRepository(store *Store) domain.LockRepository {
	return &lockRepository{db: store.DB()}
}

func (r *lockRepository) TryAcquire(paymentID, ownerToken string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()

	// Быстрый путь: записи нет, вставка выигрывает lock.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_locks (payment_id, owner_token, acquired_at)
		VALUES ($1, $2, $3)
	`, paymentID, ownerToken, now)
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, fmt.Errorf("insert webhook lock: %w", err)
	}

	// Запись существует: перехватываем её, только если она протухла.
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_locks
		SET owner_token = $2,
		    acquired_at = $3
		WHERE payment_id = $1
		  AND acquired_at < $4
	`, paymentID, ownerToken, now, now.Add(-ttl))
	if err != nil {
		return false, fmt.Errorf("take over expired webhook lock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *lockRepository) Release(paymentID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_locks WHERE payment_id = $1
	`, paymentID); err != nil {
		return fmt.Errorf("release webhook lock: %w", err)
	}

	return nil
}

func (r *lockRepository) DeleteExpired(ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_locks WHERE acquired_at < $1
	`, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("delete expired webhook locks: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(affected), nil
}

var _ domain.LockRepository = (*lockRepository)(nil)
