package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// TimelineRepository — журнал событий заказа в памяти.
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
	now    func() time.Time
}

// NewTimelineRepository создаёт пустой журнал.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{
		events: make(map[string][]domain.TimelineEvent),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append вставляет событие по времени; равные occurred остаются в порядке записи.
func (r *TimelineRepository) Append(event domain.TimelineEvent) error {
	event, err := event.Normalize(r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.events[event.OrderID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Occurred.After(event.Occurred) })
	list = append(list, domain.TimelineEvent{})
	copy(list[i+1:], list[i:])
	list[i] = event
	r.events[event.OrderID] = list
	return nil
}

// List возвращает копию журнала заказа.
func (r *TimelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
