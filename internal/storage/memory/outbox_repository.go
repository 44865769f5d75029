package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository — transactional outbox в памяти. Pending-записи лежат в
// очереди в порядке Enqueue, поэтому события одного заказа уходят по порядку.
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]*outboxEntry
	queue   []string
	failed  int
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue ставит событие в очередь. Повтор с тем же ID ничего не меняет.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg, err := msg.Normalize()
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[msg.ID]; ok {
		return cloneOutboxMessage(existing.msg), nil
	}
	now := r.now()
	r.entries[msg.ID] = &outboxEntry{
		msg:       cloneOutboxMessage(msg),
		status:    domain.OutboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	r.queue = append(r.queue, msg.ID)
	return msg, nil
}

// PullPending отдаёт до limit старейших pending-событий, не снимая их с очереди.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(limit, len(r.queue))
	out := make([]domain.OutboxMessage, 0, n)
	for _, id := range r.queue[:n] {
		out = append(out, cloneOutboxMessage(r.entries[id].msg))
	}
	return out, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(r.queue), FailedCount: r.failed}
	if len(r.queue) > 0 {
		stats.OldestPendingAt = r.entries[r.queue[0]].createdAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.finish(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.finish(id, domain.OutboxStatusFailed)
}

// finish переводит pending-запись в итоговый статус и снимает её с очереди.
func (r *OutboxRepository) finish(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound(id)
	}
	if entry.status != domain.OutboxStatusPending {
		return domain.ErrOutboxAlreadyFinished(id, entry.status)
	}

	entry.status = status
	entry.attempts++
	entry.updatedAt = r.now()
	if status == domain.OutboxStatusFailed {
		r.failed++
	}
	for i, queued := range r.queue {
		if queued == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	return nil
}

func cloneOutboxMessage(m domain.OutboxMessage) domain.OutboxMessage {
	m.Payload = append([]byte(nil), m.Payload...)
	return m
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
