package memory

import (
	"sync"
	"time"

	"github.com/medify/pedidos/internal/domain"
)

// lockRecord — запись распределённого lock в in-memory хранилище.
type lockRecord struct {
	ownerToken string
	acquiredAt time.Time
}

// Store — in-memory модель документного хранилища для локальной разработки и
// тестов. Все коллекции живут под одним мьютексом, поэтому многодокументные
// операции (оплата заказа + финализация рецепта) атомарны, как и в настоящем
// хранилище с транзакциями.
type Store struct {
	mu            sync.RWMutex
	orders        map[string]domain.Order
	prescriptions map[string]domain.Prescription
	quotes        map[string]domain.Quote
	locks         map[string]lockRecord
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		orders:        make(map[string]domain.Order),
		prescriptions: make(map[string]domain.Prescription),
		quotes:        make(map[string]domain.Quote),
		locks:         make(map[string]lockRecord),
	}
}

func quoteKey(prescriptionID, quoteID string) string {
	return prescriptionID + "/" + quoteID
}

// PutOrder кладёт заказ как есть, минуя проверки CreateOrder. Для seed-данных в тестах.
func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

// PutPrescription кладёт рецепт как есть.
func (s *Store) PutPrescription(p domain.Prescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prescriptions[p.ID] = p
}

// PutQuote кладёт котировку как есть.
func (s *Store) PutQuote(q domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[quoteKey(q.PrescriptionID, q.ID)] = q
}

// Prescription возвращает рецепт напрямую, без репозитория. Для проверок в тестах.
func (s *Store) Prescription(id string) (domain.Prescription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prescriptions[id]
	return p, ok
}
