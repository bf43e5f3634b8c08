package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medify/pedidos/internal/domain"
)

type prescriptionRepository struct {
	db *sql.DB
}

// NewPrescriptionRepository создаёт PostgreSQL-реализацию PrescriptionRepository.
func NewPrescriptionRepository(store *Store) domain.PrescriptionRepository {
	return &prescriptionRepository{db: store.DB()}
}

func (r *prescriptionRepository) Get(id string) (domain.Prescription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		p     domain.Prescription
		state string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, state, image_url, created_at, updated_at
		FROM prescriptions
		WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &state, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Prescription{}, domain.ErrPrescriptionNotFound
		}
		return domain.Prescription{}, fmt.Errorf("select prescription: %w", err)
	}
	p.State = domain.PrescriptionState(state)

	return p, nil
}

type quoteRepository struct {
	db *sql.DB
}

// NewQuoteRepository создаёт PostgreSQL-реализацию QuoteRepository.
func NewQuoteRepository(store *Store) domain.QuoteRepository {
	return &quoteRepository{db: store.DB()}
}

func (r *quoteRepository) Get(prescriptionID, quoteID string) (domain.Quote, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		q     domain.Quote
		state string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, prescription_id, pharmacy_id, state, price, commercial_name, description, created_at
		FROM quotes
		WHERE prescription_id = $1
		  AND id = $2
	`, prescriptionID, quoteID).Scan(
		&q.ID, &q.PrescriptionID, &q.PharmacyID, &state,
		&q.Price, &q.CommercialName, &q.Description, &q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Quote{}, domain.ErrQuoteNotFound
		}
		return domain.Quote{}, fmt.Errorf("select quote: %w", err)
	}
	q.State = domain.QuoteState(state)

	return q, nil
}

var (
	_ domain.PrescriptionRepository = (*prescriptionRepository)(nil)
	_ domain.QuoteRepository        = (*quoteRepository)(nil)
)
