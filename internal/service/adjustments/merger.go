package adjustments

import (
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// merger сопоставляет запланированные корректировки с сохранёнными по Key().
// Совпавшая открытая корректировка сохраняет ID и CreatedAt, UpdatedAt меняется
// только при изменении содержимого. Несовпавшие открытые корректировки удаляются.
type merger struct {
	orderID string
	now     time.Time
	newID   func() string

	closed map[string]bool
	open   map[string]domain.Adjustment
	out    []domain.Adjustment
}

func newMerger(orderID string, existing []domain.Adjustment, now time.Time, newID func() string) *merger {
	m := &merger{
		orderID: orderID,
		now:     now,
		newID:   newID,
		closed:  make(map[string]bool),
		open:    make(map[string]domain.Adjustment),
		out:     make([]domain.Adjustment, 0, len(existing)),
	}
	for _, adj := range existing {
		if adj.Closed() {
			m.closed[adj.Key()] = true
			m.out = append(m.out, adj)
		}
	}
	for _, adj := range existing {
		if adj.Closed() {
			continue
		}
		key := adj.Key()
		if m.closed[key] {
			continue
		}
		if _, dup := m.open[key]; dup {
			continue
		}
		m.open[key] = adj
	}
	return m
}

// put добавляет запланированную корректировку; закрытая с тем же ключом имеет приоритет.
func (m *merger) put(planned domain.Adjustment) {
	key := planned.Key()
	if m.closed[key] {
		return
	}

	planned.OrderID = m.orderID
	planned.State = domain.AdjustmentOpen
	if prev, ok := m.open[key]; ok {
		delete(m.open, key)
		planned.ID = prev.ID
		planned.CreatedAt = prev.CreatedAt
		planned.UpdatedAt = prev.UpdatedAt
		if changed(prev, planned) {
			planned.UpdatedAt = m.now
		}
	} else {
		planned.ID = m.newID()
		planned.CreatedAt = m.now
		planned.UpdatedAt = m.now
	}
	m.out = append(m.out, planned)
}

// stale — количество открытых корректировок, которым не нашлось пары.
func (m *merger) stale() int {
	return len(m.open)
}

func changed(prev, next domain.Adjustment) bool {
	return prev.AmountMinor != next.AmountMinor ||
		prev.Included != next.Included ||
		prev.Label != next.Label ||
		prev.Role != next.Role ||
		prev.TaxCategoryID != next.TaxCategoryID ||
		prev.State != next.State
}
