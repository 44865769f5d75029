package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// orderRepository хранит заказы в памяти с индексами по клиенту и email.
// Наружу отдаются только копии: сервисы мутируют заказ до Save.
type orderRepository struct {
	mu         sync.RWMutex
	orders     map[string]domain.Order
	byCustomer map[string]map[string]struct{}
	byEmail    map[string]map[string]struct{}
}

// NewOrderRepository возвращает репозиторий для локального запуска и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepository{
		orders:     make(map[string]domain.Order),
		byCustomer: make(map[string]map[string]struct{}),
		byEmail:    make(map[string]map[string]struct{}),
	}
}

func (r *orderRepository) Create(order domain.Order) error {
	if order.ID == "" {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.put(order.Clone())
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// LastByEmail ищет последний по updated_at заказ с платёжным адресом;
// из него checkout подставляет адреса гостю.
func (r *orderRepository) LastByEmail(email, excludeID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		last  domain.Order
		found bool
	)
	for id := range r.byEmail[email] {
		order := r.orders[id]
		if id == excludeID || order.BillAddress == nil {
			continue
		}
		if !found || newerUpdate(order, last) {
			last, found = order, true
		}
	}
	if !found {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return last.Clone(), nil
}

// ListByCustomer отдаёт заказы клиента от новых к старым; limit<=0 без ограничения.
func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCustomer[customerID]
	out := make([]domain.Order, 0, len(ids))
	for id := range ids {
		out = append(out, r.orders[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

// Save пишет заказ, если его версия совпадает с хранимой, и поднимает версию.
func (r *orderRepository) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	r.drop(current)
	stored := order.Clone()
	stored.Version++
	r.put(stored)
	return nil
}

func (r *orderRepository) put(order domain.Order) {
	r.orders[order.ID] = order
	addToIndex(r.byCustomer, order.CustomerID, order.ID)
	addToIndex(r.byEmail, order.Email, order.ID)
}

// drop снимает заказ с индексов: email гостя меняется на шаге address.
func (r *orderRepository) drop(order domain.Order) {
	removeFromIndex(r.byCustomer, order.CustomerID, order.ID)
	removeFromIndex(r.byEmail, order.Email, order.ID)
}

func addToIndex(index map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func newerUpdate(a, b domain.Order) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

var _ domain.OrderRepository = (*orderRepository)(nil)
