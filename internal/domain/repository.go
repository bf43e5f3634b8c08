package domain

import "time"

// OrderRepository — единственный писатель документов заказов. Реализации обязаны
// выполнять CreateOrder и SettleIdempotent внутри одной сериализуемой транзакции
// и прозрачно повторять её при конфликте записи.
type OrderRepository interface {
	// CreateOrder атомарно проверяет отсутствие живого заказа для пары
	// (пользователь, рецепт) и вставляет новый заказ в статусе pendiente_de_pago.
	// freshness задаёт порог, после которого незавершённый pending-заказ
	// считается истёкшим и не блокирует новый. Конфликт — *DuplicateOrderError.
	CreateOrder(in NewOrderInput, freshness time.Duration) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// SettleIdempotent переводит заказ в pagado и той же транзакцией финализирует
	// связанный рецепт. Повторный вызов с тем же payment id — SettleDuplicate,
	// с другим payment id — SettleConflict без мутаций.
	SettleIdempotent(orderID, paymentID, providerStatus string) (SettleOutcome, error)
	// UpdateNonTerminal записывает неодобренный статус провайдера; без
	// идемпотентной защиты, без побочного эффекта на рецепт.
	UpdateNonTerminal(orderID string, state OrderState, paymentID, providerStatus string) error
	// MarkAbandoned закрывает заказ как брошенный. Условное обновление: если заказ
	// уже не в pendiente_de_pago, вызов превращается в no-op.
	MarkAbandoned(orderID string) error
	// Delete жёстко удаляет заказ; только как компенсация неудавшегося создания preference.
	Delete(orderID string) error
	// FindStalePending возвращает идентификаторы заказов в pendiente_de_pago
	// старше olderThan.
	FindStalePending(olderThan time.Duration) ([]string, error)
}

// PrescriptionRepository читает рецепты для валидации checkout.
type PrescriptionRepository interface {
	Get(id string) (Prescription, error)
}

// QuoteRepository читает котировки аптек. Котировка принадлежит рецепту.
type QuoteRepository interface {
	Get(prescriptionID, quoteID string) (Quote, error)
}

// LockRepository — распределённый lock в общем хранилище. Запись считается
// отсутствующей, если она старше ttl.
type LockRepository interface {
	// TryAcquire пытается захватить lock по payment id. Возвращает false, если
	// lock существует и ещё свежий.
	TryAcquire(paymentID, ownerToken string, ttl time.Duration) (bool, error)
	// Release удаляет запись lock.
	Release(paymentID string) error
	// DeleteExpired удаляет записи старше ttl и возвращает их количество.
	DeleteExpired(ttl time.Duration) (int, error)
}

// OutboxRepository сохраняет события заказов для последующей публикации.
// Enqueue вызывается рядом с изменением заказа; доставку at-least-once
// обеспечивает отдельный dispatcher.
type OutboxRepository interface {
	// Enqueue сохраняет событие со статусом pending; пустые ID и OccurredAt
	// проставляются при записи.
	Enqueue(event OrderEvent) (OrderEvent, error)
	// PullPending возвращает до limit pending-событий в порядке постановки.
	PullPending(limit int) ([]OrderEvent, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}
