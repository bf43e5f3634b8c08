package memory

import (
	"time"

	"github.com/medify/pedidos/internal/domain"
)

// lockRepositoryInMemory реализует LockRepository поверх Store.
type lockRepositoryInMemory struct {
	store *Store
}

// NewLockRepository возвращает in-memory реализацию распределённого lock.
func NewLockRepository(store *Store) domain.LockRepository {
	return &lockRepositoryInMemory{store: store}
}

// TryAcquire захватывает или обновляет lock. Просроченная запись перезаписывается.
func (r *lockRepositoryInMemory) TryAcquire(paymentID, ownerToken string, ttl time.Duration) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	if rec, ok := r.store.locks[paymentID]; ok {
		if now.Sub(rec.acquiredAt) < ttl {
			return false, nil
		}
	}

	r.store.locks[paymentID] = lockRecord{ownerToken: ownerToken, acquiredAt: now}
	return true, nil
}

// Release удаляет запись lock; отсутствие записи не ошибка.
func (r *lockRepositoryInMemory) Release(paymentID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	delete(r.store.locks, paymentID)
	return nil
}

// DeleteExpired удаляет записи старше ttl.
func (r *lockRepositoryInMemory) DeleteExpired(ttl time.Duration) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cutoff := time.Now().UTC().Add(-ttl)
	deleted := 0
	for id, rec := range r.store.locks {
		if rec.acquiredAt.Before(cutoff) {
			delete(r.store.locks, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ domain.LockRepository = (*lockRepositoryInMemory)(nil)
