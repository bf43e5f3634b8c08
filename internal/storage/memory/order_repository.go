package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medify/pedidos/internal/domain"
)

// orderRepositoryInMemory реализует OrderRepository поверх Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// CreateOrder проверяет отсутствие живого заказа и вставляет новый под одним мьютексом,
// что эквивалентно сериализуемой транзакции настоящего хранилища.
func (r *orderRepositoryInMemory) CreateOrder(in domain.NewOrderInput, freshness time.Duration) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	if latest, ok := r.latestLiveLocked(in.UserID, in.PrescriptionID); ok {
		if latest.State == domain.OrderStatePaid {
			return domain.Order{}, &domain.DuplicateOrderError{
				PrescriptionID: in.PrescriptionID,
				State:          domain.OrderStatePaid,
			}
		}
		if age := now.Sub(latest.CreatedAt); age < freshness {
			return domain.Order{}, &domain.DuplicateOrderError{
				PrescriptionID: in.PrescriptionID,
				State:          latest.State,
				RetryAfter:     freshness - age,
			}
		}
		// Прежний pending-заказ истёк: он остаётся в истории как есть,
		// новый заказ создаётся рядом.
	}

	order := domain.Order{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		PharmacyID:     in.PharmacyID,
		PrescriptionID: in.PrescriptionID,
		QuoteID:        in.QuoteID,
		Price:          in.Price,
		State:          domain.OrderStatePendingPayment,
		CreatedAt:      now,
	}
	r.store.orders[order.ID] = order
	return order, nil
}

// latestLiveLocked возвращает самый свежий живой заказ пары (пользователь, рецепт).
// Вызывается только под мьютексом Store.
func (r *orderRepositoryInMemory) latestLiveLocked(userID, prescriptionID string) (domain.Order, bool) {
	var (
		latest domain.Order
		found  bool
	)
	for _, order := range r.store.orders {
		if order.UserID != userID || order.PrescriptionID != prescriptionID {
			continue
		}
		live := false
		for _, state := range domain.LiveOrderStates() {
			if order.State == state {
				live = true
				break
			}
		}
		if !live {
			continue
		}
		if !found || order.CreatedAt.After(latest.CreatedAt) {
			latest = order
			found = true
		}
	}
	return latest, found
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// SettleIdempotent переводит заказ в pagado и финализирует рецепт под одним мьютексом.
func (r *orderRepositoryInMemory) SettleIdempotent(orderID, paymentID, providerStatus string) (domain.SettleOutcome, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.SettleOrderMissing, nil
	}

	if order.State == domain.OrderStatePaid {
		if order.PaymentID == paymentID {
			return domain.SettleDuplicate, nil
		}
		return domain.SettleConflict, nil
	}

	now := time.Now().UTC()
	order.State = domain.OrderStatePaid
	order.PaymentID = paymentID
	order.ProviderStatus = providerStatus
	order.PaidAt = now
	r.store.orders[orderID] = order

	if p, ok := r.store.prescriptions[order.PrescriptionID]; ok {
		p.State = domain.PrescriptionStateFinalized
		p.UpdatedAt = now
		r.store.prescriptions[p.ID] = p
	}

	return domain.SettleApplied, nil
}

// UpdateNonTerminal перезаписывает статус без идемпотентной защиты.
func (r *orderRepositoryInMemory) UpdateNonTerminal(orderID string, state domain.OrderState, paymentID, providerStatus string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.State = state
	order.PaymentID = paymentID
	order.ProviderStatus = providerStatus
	r.store.orders[orderID] = order
	return nil
}

// MarkAbandoned закрывает заказ, только если он всё ещё в pendiente_de_pago.
func (r *orderRepositoryInMemory) MarkAbandoned(orderID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.State != domain.OrderStatePendingPayment {
		// Состояние изменилось между поиском и записью: молча пропускаем.
		return nil
	}

	order.State = domain.OrderStateAbandoned
	order.ClosedAt = time.Now().UTC()
	r.store.orders[orderID] = order
	return nil
}

// Delete жёстко удаляет заказ.
func (r *orderRepositoryInMemory) Delete(orderID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.orders[orderID]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.store.orders, orderID)
	return nil
}

// FindStalePending возвращает идентификаторы pending-заказов старше olderThan.
func (r *orderRepositoryInMemory) FindStalePending(olderThan time.Duration) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	ids := make([]string, 0)
	for id, order := range r.store.orders {
		if order.State == domain.OrderStatePendingPayment && order.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
