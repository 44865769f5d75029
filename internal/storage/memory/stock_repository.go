package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

type stockKey struct {
	variantID string
	hubID     string
}

// stockRepositoryInMemory хранит базовые записи и переопределения хабов раздельно.
type stockRepositoryInMemory struct {
	mu      sync.Mutex
	records map[stockKey]domain.StockRecord
}

// NewStockRepository создаёт in-memory реализацию StockRepository.
func NewStockRepository() domain.StockRepository {
	return &stockRepositoryInMemory{records: make(map[stockKey]domain.StockRecord)}
}

func (r *stockRepositoryInMemory) Get(variantID, hubID string) (domain.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[stockKey{variantID, hubID}]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}
	return cloneStock(rec), nil
}

func (r *stockRepositoryInMemory) Adjust(variantID, hubID string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stockKey{variantID, hubID}
	rec, ok := r.records[key]
	if !ok {
		return domain.ErrStockRecordNotFound
	}
	if rec.Unlimited() {
		return nil
	}
	if rec.CountOnHand+delta < 0 {
		return domain.ErrInsufficientStock
	}
	rec.CountOnHand += delta
	rec.UpdatedAt = time.Now().UTC()
	r.records[key] = rec
	return nil
}

func (r *stockRepositoryInMemory) Put(record domain.StockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	r.records[stockKey{record.VariantID, record.HubID}] = cloneStock(record)
	return nil
}

func cloneStock(rec domain.StockRecord) domain.StockRecord {
	if rec.PriceMinor != nil {
		p := *rec.PriceMinor
		rec.PriceMinor = &p
	}
	return rec
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
