package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	// Количество попыток сериализуемой транзакции при конфликте записи (40001).
	serializableAttempts = 3
)

type orderRepository struct {
	db     *sql.DB
	logger *log.Entry
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{
		db:     store.DB(),
		logger: log.WithField("component", "orders_repository"),
	}
}

func (r *orderRepository) CreateOrder(in domain.NewOrderInput, freshness time.Duration) (domain.Order, error) {
	var created domain.Order

	err := r.inSerializableTx(func(ctx context.Context, tx *sql.Tx) error {
		latest, found, err := latestLiveOrderTx(ctx, tx, in.UserID, in.PrescriptionID)
		if err != nil {
			return err
		}
		if found {
			if latest.State == domain.OrderStatePaid {
				return &domain.DuplicateOrderError{
					PrescriptionID: in.PrescriptionID,
					State:          domain.OrderStatePaid,
				}
			}
			age := time.Since(latest.CreatedAt)
			if age < freshness {
				return &domain.DuplicateOrderError{
					PrescriptionID: in.PrescriptionID,
					State:          latest.State,
					RetryAfter:     freshness - age,
				}
			}
		}

		order := domain.Order{
			ID:             uuid.NewString(),
			UserID:         in.UserID,
			PharmacyID:     in.PharmacyID,
			PrescriptionID: in.PrescriptionID,
			QuoteID:        in.QuoteID,
			Price:          in.Price,
			State:          domain.OrderStatePendingPayment,
			CreatedAt:      time.Now().UTC(),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, user_id, pharmacy_id, prescription_id, quote_id,
				price, state, payment_id, provider_status, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,'','',$8)
		`,
			order.ID, order.UserID, order.PharmacyID, order.PrescriptionID, order.QuoteID,
			order.Price, string(order.State), order.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return created, nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderQuery+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) SettleIdempotent(orderID, paymentID, providerStatus string) (domain.SettleOutcome, error) {
	outcome := domain.SettleOrderMissing

	err := r.inSerializableTx(func(ctx context.Context, tx *sql.Tx) error {
		order, err := scanOrder(tx.QueryRowContext(ctx, selectOrderQuery+` WHERE id = $1`, orderID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				outcome = domain.SettleOrderMissing
				return nil
			}
			return fmt.Errorf("select order for settle: %w", err)
		}

		if order.State == domain.OrderStatePaid {
			if order.PaymentID == paymentID {
				outcome = domain.SettleDuplicate
			} else {
				outcome = domain.SettleConflict
			}
			return nil
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET state = $2,
			    payment_id = $3,
			    provider_status = $4,
			    paid_at = $5
			WHERE id = $1
		`, orderID, string(domain.OrderStatePaid), paymentID, providerStatus, now); err != nil {
			return fmt.Errorf("settle order: %w", err)
		}

		// Финализация рецепта — та же транзакция, что и переход заказа в pagado.
		if _, err := tx.ExecContext(ctx, `
			UPDATE prescriptions
			SET state = $2,
			    updated_at = $3
			WHERE id = $1
		`, order.PrescriptionID, string(domain.PrescriptionStateFinalized), now); err != nil {
			return fmt.Errorf("finalize prescription: %w", err)
		}

		outcome = domain.SettleApplied
		return nil
	})
	if err != nil {
		return domain.SettleOrderMissing, err
	}

	return outcome, nil
}

func (r *orderRepository) UpdateNonTerminal(orderID string, state domain.OrderState, paymentID, providerStatus string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET state = $2,
		    payment_id = $3,
		    provider_status = $4
		WHERE id = $1
	`, orderID, string(state), paymentID, providerStatus)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *orderRepository) MarkAbandoned(orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Условное обновление: заказ, успевший оплатиться между поиском и записью,
	// не затирается.
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET state = $2,
		    closed_at = $3
		WHERE id = $1
		  AND state = $4
	`, orderID, string(domain.OrderStateAbandoned), time.Now().UTC(), string(domain.OrderStatePendingPayment))
	if err != nil {
		return fmt.Errorf("mark order abandoned: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, orderID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		// Заказ уже не в pendiente_de_pago — no-op.
		return nil
	}

	return nil
}

func (r *orderRepository) Delete(orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *orderRepository) FindStalePending(olderThan time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE state = $1
		  AND created_at < $2
		ORDER BY id
	`, string(domain.OrderStatePendingPayment), cutoff)
	if err != nil {
		// Запасной путь: выборка только по статусу и фильтрация по времени на
		// клиенте. Дороже составного индекса, поэтому предупреждаем в логе.
		r.logger.WithError(err).Warn("composite stale-pending query failed, falling back to state-only scan")
		return r.findStalePendingFallback(ctx, cutoff)
	}
	defer rows.Close()

	return collectIDs(rows)
}

func (r *orderRepository) findStalePendingFallback(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at
		FROM orders
		WHERE state = $1
		ORDER BY id
	`, string(domain.OrderStatePendingPayment))
	if err != nil {
		return nil, fmt.Errorf("stale pending fallback query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var (
			id        string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &createdAt); err != nil {
			return nil, fmt.Errorf("scan stale pending row: %w", err)
		}
		if createdAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale pending rows: %w", err)
	}

	return ids, nil
}

const selectOrderQuery = `
	SELECT id, user_id, pharmacy_id, prescription_id, quote_id,
	       price, state, payment_id, provider_status, created_at, paid_at, closed_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order    domain.Order
		state    string
		paidAt   sql.NullTime
		closedAt sql.NullTime
	)

	if err := row.Scan(
		&order.ID, &order.UserID, &order.PharmacyID, &order.PrescriptionID, &order.QuoteID,
		&order.Price, &state, &order.PaymentID, &order.ProviderStatus, &order.CreatedAt, &paidAt, &closedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.State = domain.OrderState(state)
	if paidAt.Valid {
		order.PaidAt = paidAt.Time.UTC()
	}
	if closedAt.Valid {
		order.ClosedAt = closedAt.Time.UTC()
	}

	return order, nil
}

// latestLiveOrderTx возвращает самый свежий живой заказ пары (пользователь, рецепт).
func latestLiveOrderTx(ctx context.Context, tx *sql.Tx, userID, prescriptionID string) (domain.Order, bool, error) {
	live := domain.LiveOrderStates()
	order, err := scanOrder(tx.QueryRowContext(ctx, selectOrderQuery+`
		WHERE user_id = $1
		  AND prescription_id = $2
		  AND state IN ($3, $4, $5)
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, prescriptionID, string(live[0]), string(live[1]), string(live[2])))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, fmt.Errorf("select latest live order: %w", err)
	}

	return order, true, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order ids: %w", err)
	}

	return ids, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

// inSerializableTx выполняет fn в сериализуемой транзакции и прозрачно
// повторяет её при конфликте записи (SQLSTATE 40001).
func (r *orderRepository) inSerializableTx(fn func(ctx context.Context, tx *sql.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= serializableAttempts; attempt++ {
		err := r.runSerializableOnce(fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		r.logger.WithError(err).WithField("attempt", attempt).Debug("serialization failure, retrying tx")
	}

	return fmt.Errorf("serializable tx attempts exhausted: %w", lastErr)
}

func (r *orderRepository) runSerializableOnce(fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin serializable tx: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
