package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medify/pedidos/internal/domain"
)

// outboxRepository хранит события заказов в таблице order_events. Событие
// раскладывается по типизированным колонкам: потребителям backlog (поддержка,
// ad-hoc SQL) нужен заказ и платёж без разбора JSON-блоба.
type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(event domain.OrderEvent) (domain.OrderEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_events (
			id, event_type, order_id, user_id, pharmacy_id, prescription_id,
			payment_id, provider_status, price, occurred_at,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'pending',0,$11,$12)
	`,
		event.ID, string(event.Type), event.OrderID, event.UserID, event.PharmacyID,
		event.PrescriptionID, event.PaymentID, event.ProviderStatus, event.Price,
		event.OccurredAt, now, now,
	)
	if err != nil {
		return domain.OrderEvent{}, fmt.Errorf("enqueue order event: %w", err)
	}

	return event, nil
}

func (r *outboxRepository) PullPending(limit int) ([]domain.OrderEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, order_id, user_id, pharmacy_id, prescription_id,
		       payment_id, provider_status, price, occurred_at
		FROM order_events
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending order events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderEvent, 0, limit)
	for rows.Next() {
		var (
			event     domain.OrderEvent
			eventType string
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.OrderID,
			&event.UserID,
			&event.PharmacyID,
			&event.PrescriptionID,
			&event.PaymentID,
			&event.ProviderStatus,
			&event.Price,
			&event.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		event.Type = domain.OrderEventType(eventType)
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order event rows: %w", err)
	}

	return result, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM order_events
		WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("order events stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.markStatus(id, "sent")
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.markStatus(id, "failed")
}

func (r *outboxRepository) markStatus(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE order_events
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark order event as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for order event %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}

	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
