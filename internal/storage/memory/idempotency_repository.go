package memory

import (
	"container/heap"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// IdempotencyRepository держит ключи в памяти. Истечение идёт по куче TTL,
// поэтому DeleteExpired с limit удаляет самые старые ключи первыми.
type IdempotencyRepository struct {
	mu     sync.Mutex
	items  map[string]*idempotencyEntry
	expiry expiryHeap
	now    func() time.Time
}

type idempotencyEntry struct {
	record domain.IdempotencyRecord
	index  int
}

// NewIdempotencyRepository создаёт пустое хранилище.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		items: make(map[string]*idempotencyEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(claim domain.IdempotencyClaim) (domain.IdempotencyRecord, error) {
	now := r.now()
	claim, err := claim.Normalize(now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[claim.Key]; ok {
		return cloneIdempotencyRecord(existing.record), existing.record.Conflict(claim)
	}

	entry := &idempotencyEntry{record: domain.NewIdempotencyRecord(claim, now)}
	r.items[claim.Key] = entry
	heap.Push(&r.expiry, entry)
	return cloneIdempotencyRecord(entry.record), nil
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(entry.record), nil
}

func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет ключи с TTL не позже before; limit<=0 — без ограничения.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for r.expiry.Len() > 0 && r.expiry[0].record.Expired(before) {
		if limit > 0 && removed >= limit {
			break
		}
		entry := heap.Pop(&r.expiry).(*idempotencyEntry)
		delete(r.items, entry.record.Key)
		removed++
	}
	return removed, nil
}

// ReleaseStale освобождает ключи в processing, не обновлявшиеся с updatedBefore.
func (r *IdempotencyRepository) ReleaseStale(updatedBefore time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, entry := range r.items {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.record.Status != domain.IdempotencyStatusProcessing || entry.record.UpdatedAt.After(updatedBefore) {
			continue
		}
		heap.Remove(&r.expiry, entry.index)
		delete(r.items, key)
		removed++
	}
	return removed, nil
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	entry.record.Status = status
	entry.record.ResponseBody = append([]byte(nil), responseBody...)
	entry.record.HTTPStatus = httpStatus
	entry.record.UpdatedAt = r.now()
	return nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

type expiryHeap []*idempotencyEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].record.TTLAt.Before(h[j].record.TTLAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	entry := x.(*idempotencyEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
