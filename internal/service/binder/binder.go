package binder

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// Result описывает побочные эффекты привязки, которые вызывающему нужно зафиксировать в аудите.
type Result struct {
	// Emptied — корзина очищена из-за смены хаба или окна продаж.
	Emptied bool
	// HubSwitched — заказ перепривязан к другому хабу.
	HubSwitched bool
	// AutoSelected — окно выбрано автоматически, как единственное активное.
	AutoSelected bool
	// Candidates — число активных окон хаба, если выбор остался за покупателем.
	Candidates int
}

// Binder привязывает заказ к одному хабу и одному окну продаж.
type Binder struct {
	catalog domain.CatalogRepository
	logger  *log.Entry
	now     func() time.Time
}

// New создаёт Binder.
func New(catalog domain.CatalogRepository, logger *log.Entry) *Binder {
	if logger == nil {
		logger = log.New().WithField("component", "order-cycle-binder")
	}
	return &Binder{
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (для тестов).
func (b *Binder) WithClock(now func() time.Time) *Binder {
	b.now = now
	return b
}

// Bind привязывает заказ к хабу и, если передан cycleID, к окну.
// При смене хаба или окна непустая корзина очищается до установки новой привязки.
// Без cycleID окно выбирается автоматически, только если активно ровно одно.
func (b *Binder) Bind(order *domain.Order, hubID, cycleID string) (Result, error) {
	var res Result

	hub, err := b.catalog.Enterprise(hubID)
	if err != nil {
		if errors.Is(err, domain.ErrEnterpriseNotFound) {
			return res, fmt.Errorf("%w: %s", domain.ErrNoSuchHub, hubID)
		}
		return res, err
	}
	if !hub.IsHub {
		return res, fmt.Errorf("%w: %s is not a hub", domain.ErrNoSuchHub, hubID)
	}

	now := b.now()

	var target domain.OrderCycle
	if cycleID != "" {
		target, err = b.openCycle(hubID, cycleID, now)
		if err != nil {
			return res, err
		}
	}

	if order.HubID != "" && order.HubID != hubID {
		res.HubSwitched = true
		if !order.IsEmpty() {
			b.empty(order, now)
			res.Emptied = true
		}
		order.OrderCycleID = ""
	}
	order.HubID = hubID

	if cycleID == "" {
		if order.OrderCycleID != "" {
			if current, err := b.catalog.OrderCycle(order.OrderCycleID); err == nil &&
				current.IsOpen(now) && current.DistributesTo(hubID) {
				return res, nil
			}
		}
		active, err := b.catalog.ActiveOrderCycles(hubID, now)
		if err != nil {
			return res, fmt.Errorf("list active order cycles: %w", err)
		}
		if len(active) != 1 {
			res.Candidates = len(active)
			order.OrderCycleID = ""
			b.logger.WithFields(log.Fields{
				"order_id":   order.ID,
				"hub_id":     hubID,
				"candidates": len(active),
			}).Debug("order cycle left unbound")
			return res, nil
		}
		target = active[0]
		res.AutoSelected = true
	}

	if order.OrderCycleID != "" && order.OrderCycleID != target.ID && !order.IsEmpty() {
		b.empty(order, now)
		res.Emptied = true
	}
	order.OrderCycleID = target.ID
	return res, nil
}

func (b *Binder) openCycle(hubID, cycleID string, now time.Time) (domain.OrderCycle, error) {
	cycle, err := b.catalog.OrderCycle(cycleID)
	if err != nil {
		return domain.OrderCycle{}, err
	}
	if !cycle.DistributesTo(hubID) {
		return domain.OrderCycle{}, fmt.Errorf("%w: %s does not distribute to %s", domain.ErrOrderCycleNotFound, cycleID, hubID)
	}
	if !cycle.IsOpen(now) {
		return domain.OrderCycle{}, fmt.Errorf("%w: %s closed at %s", domain.ErrWindowClosed, cycleID, cycle.ClosesAt.Format(time.RFC3339))
	}
	return cycle, nil
}

func (b *Binder) empty(order *domain.Order, now time.Time) {
	order.ClearCart()
	order.InvalidatePayments(now)
	if !order.State.Final() {
		order.State = domain.StateCart
	}
}

// Resolve проверяет, что заказ готов к оформлению: привязан, хаб принимает заказы
// и окно ещё открыто. Возвращает хаб и окно для дальнейших проверок.
func (b *Binder) Resolve(order domain.Order) (domain.Enterprise, domain.OrderCycle, error) {
	if !order.Bound() {
		return domain.Enterprise{}, domain.OrderCycle{}, domain.ErrOrderNotBound
	}
	hub, err := b.catalog.Enterprise(order.HubID)
	if err != nil {
		if errors.Is(err, domain.ErrEnterpriseNotFound) {
			return domain.Enterprise{}, domain.OrderCycle{}, fmt.Errorf("%w: %s", domain.ErrNoSuchHub, order.HubID)
		}
		return domain.Enterprise{}, domain.OrderCycle{}, err
	}
	cycle, err := b.catalog.OrderCycle(order.OrderCycleID)
	if err != nil {
		return hub, domain.OrderCycle{}, err
	}
	if !cycle.IsOpen(b.now()) {
		return hub, cycle, domain.ErrWindowClosed
	}
	return hub, cycle, nil
}

// AssociateCustomer заполняет только пустые поля покупателя и email.
// Существующая привязка не перезаписывается.
func AssociateCustomer(order *domain.Order, customer domain.Customer) bool {
	changed := false
	if order.CustomerID == "" && customer.ID != "" {
		order.CustomerID = customer.ID
		changed = true
	}
	if order.Email == "" && customer.Email != "" {
		order.Email = customer.Email
		changed = true
	}
	return changed
}
