package memory

import "github.com/medify/pedidos/internal/domain"

// prescriptionRepositoryInMemory читает рецепты из Store.
type prescriptionRepositoryInMemory struct {
	store *Store
}

// NewPrescriptionRepository возвращает in-memory репозиторий рецептов.
func NewPrescriptionRepository(store *Store) domain.PrescriptionRepository {
	return &prescriptionRepositoryInMemory{store: store}
}

func (r *prescriptionRepositoryInMemory) Get(id string) (domain.Prescription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.prescriptions[id]
	if !ok {
		return domain.Prescription{}, domain.ErrPrescriptionNotFound
	}
	return p, nil
}

// quoteRepositoryInMemory читает котировки из Store.
type quoteRepositoryInMemory struct {
	store *Store
}

// NewQuoteRepository возвращает in-memory репозиторий котировок.
func NewQuoteRepository(store *Store) domain.QuoteRepository {
	return &quoteRepositoryInMemory{store: store}
}

func (r *quoteRepositoryInMemory) Get(prescriptionID, quoteID string) (domain.Quote, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	q, ok := r.store.quotes[quoteKey(prescriptionID, quoteID)]
	if !ok {
		return domain.Quote{}, domain.ErrQuoteNotFound
	}
	return q, nil
}

var (
	_ domain.PrescriptionRepository = (*prescriptionRepositoryInMemory)(nil)
	_ domain.QuoteRepository        = (*quoteRepositoryInMemory)(nil)
)
