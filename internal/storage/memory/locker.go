package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// Locker — эксклюзивная блокировка заказа внутри одного процесса.
// Каждому заказу соответствует семафор ёмкостью 1.
type Locker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocker создаёт блокировщик заказов.
func NewLocker() *Locker {
	return &Locker{slots: make(map[string]chan struct{})}
}

func (l *Locker) slot(orderID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[orderID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[orderID] = ch
	}
	return ch
}

// Lock ждёт освобождения заказа или отмены ctx.
func (l *Locker) Lock(ctx context.Context, orderID string) (func(), error) {
	ch := l.slot(orderID)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-ch })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ domain.OrderLocker = (*Locker)(nil)
