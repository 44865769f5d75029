package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
	"github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"
	"github.com/vladislavdragonenkov/hubcart/internal/service/audit"
	"github.com/vladislavdragonenkov/hubcart/internal/service/binder"
	"github.com/vladislavdragonenkov/hubcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/hubcart/internal/service/guard"
	"github.com/vladislavdragonenkov/hubcart/internal/service/stock"
	"github.com/vladislavdragonenkov/hubcart/internal/service/voucher"
)

// Deps — зависимости фасада.
type Deps struct {
	Catalog  domain.CatalogRepository
	Orders   domain.OrderRepository
	Guard    *guard.Guard
	Binder   *binder.Binder
	Ledger   *stock.Ledger
	Pipeline *adjustments.Pipeline
	Vouchers *voucher.Service
	Machine  *checkout.Machine
	Recorder *audit.Recorder
	Metrics  *metrics.CheckoutMetrics
	Logger   *log.Entry
	Now      func() time.Time
	NewID    func() string
}

// Service — прикладной фасад над модулями заказа, общий для gRPC и REST.
// Все изменения заказа идут через guard; события аудита пишутся после сохранения.
type Service struct {
	catalog  domain.CatalogRepository
	orders   domain.OrderRepository
	guard    *guard.Guard
	binder   *binder.Binder
	ledger   *stock.Ledger
	pipeline *adjustments.Pipeline
	vouchers *voucher.Service
	machine  *checkout.Machine
	recorder *audit.Recorder
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// New создаёт фасад витрины.
func New(d Deps) *Service {
	s := &Service{
		catalog:  d.Catalog,
		orders:   d.Orders,
		guard:    d.Guard,
		binder:   d.Binder,
		ledger:   d.Ledger,
		pipeline: d.Pipeline,
		vouchers: d.Vouchers,
		machine:  d.Machine,
		recorder: d.Recorder,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Now,
		newID:    d.NewID,
	}
	if s.logger == nil {
		s.logger = log.New().WithField("component", "storefront")
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// NewOrderRequest — параметры новой корзины. Все поля необязательны.
type NewOrderRequest struct {
	CustomerID   string `json:"customer_id"`
	Email        string `json:"email"`
	Currency     string `json:"currency"`
	HubID        string `json:"hub_id"`
	OrderCycleID string `json:"order_cycle_id"`
}

// NewOrder создаёт пустую корзину и, если передан хаб, сразу привязывает её.
func (s *Service) NewOrder(ctx context.Context, req NewOrderRequest) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	now := s.now()
	order := domain.Order{
		ID:        s.newID(),
		Email:     strings.TrimSpace(req.Email),
		Currency:  req.Currency,
		State:     domain.StateCart,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if order.Currency == "" {
		order.Currency = "EUR"
	}
	if req.CustomerID != "" {
		customer, err := s.catalog.Customer(req.CustomerID)
		if err != nil {
			return domain.Order{}, err
		}
		binder.AssociateCustomer(&order, customer)
	}
	if req.HubID != "" {
		if _, err := s.binder.Bind(&order, req.HubID, req.OrderCycleID); err != nil {
			return domain.Order{}, err
		}
	}
	if err := s.orders.Create(order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"hub_id":   order.HubID,
	}).Info("order created")
	return order, nil
}

// BindResult — итог привязки к хабу и окну продаж.
type BindResult struct {
	Order domain.Order
	binder.Result
}

// Bind привязывает заказ к хабу и окну продаж. Смена хаба или окна очищает корзину.
func (s *Service) Bind(ctx context.Context, orderID, hubID, cycleID string) (BindResult, error) {
	var (
		res BindResult
		ev  events
	)
	order, err := s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		ev = events{}
		o := tx.Order
		if err := notFinal(*o); err != nil {
			return err
		}
		prevHub, prevState := o.HubID, o.State
		r, err := s.binder.Bind(o, hubID, cycleID)
		if err != nil {
			return err
		}
		res.Result = r
		if r.HubSwitched {
			ev.add(o.ID, domain.EventHubSwitched, map[string]interface{}{"from": prevHub, "to": hubID})
		}
		if r.Emptied {
			ev.add(o.ID, domain.EventCartEmptied, map[string]interface{}{"reason": "order cycle changed"})
		}
		if o.State != prevState {
			ev.transition(o.ID, prevState, o.State)
		}
		_, err = s.pipeline.Recompute(ctx, o)
		return err
	})
	if err != nil {
		return BindResult{}, err
	}
	ev.flush(s.recorder)
	res.Order = order
	return res, nil
}

// AssociateCustomer привязывает покупателя к заказу, не перезаписывая заполненные поля.
func (s *Service) AssociateCustomer(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	customer, err := s.catalog.Customer(customerID)
	if err != nil {
		return domain.Order{}, err
	}
	return s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		if tx.Order.State == domain.StateCanceled {
			return domain.ErrOrderCanceled
		}
		binder.AssociateCustomer(tx.Order, customer)
		return nil
	})
}

// EmptyCart отказывается от оформления: корзина очищается, привязка к окну
// снимается, состояние возвращается в cart.
func (s *Service) EmptyCart(ctx context.Context, orderID string) (domain.Order, error) {
	var ev events
	order, err := s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		ev = events{}
		o := tx.Order
		if err := notFinal(*o); err != nil {
			return err
		}
		prev := o.State
		o.ClearCart()
		o.OrderCycleID = ""
		o.State = domain.StateCart
		invalidated := o.InvalidatePayments(s.now())
		ev.add(o.ID, domain.EventCartEmptied, map[string]interface{}{
			"reason":      "cart emptied by customer",
			"invalidated": invalidated,
		})
		if prev != domain.StateCart {
			ev.transition(o.ID, prev, domain.StateCart)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	ev.flush(s.recorder)
	return order, nil
}

// Get возвращает заказ с актуальными корректировками. Хранимая копия не меняется.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, adjustments.Result, error) {
	if orderID == "" {
		return domain.Order{}, adjustments.Result{}, domain.ErrOrderIDRequired
	}
	stored, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, adjustments.Result{}, err
	}
	if stored.State.Final() {
		return stored, adjustments.Result{Totals: stored.Totals}, nil
	}
	view := stored.Clone()
	res, err := s.pipeline.Recompute(ctx, &view)
	if err != nil {
		return domain.Order{}, adjustments.Result{}, err
	}
	return view, res, nil
}

// ApplyVoucher применяет код ваучера к заказу.
func (s *Service) ApplyVoucher(ctx context.Context, orderID, code string) (domain.Order, voucher.Outcome, error) {
	var out voucher.Outcome
	order, err := s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		var err error
		out, err = s.vouchers.Apply(ctx, tx.Order, code)
		return err
	})
	if err != nil {
		return domain.Order{}, voucher.Outcome{}, err
	}
	s.record(orderID, domain.EventVoucherApplied, map[string]interface{}{
		"voucher_id":    out.Adjustment.Originator.ID,
		"adjustment_id": out.Adjustment.ID,
		"amount":        out.Adjustment.AmountMinor,
		"invalidated":   out.Invalidated,
		"reason":        out.Adjustment.Label,
	})
	return order, out, nil
}

// RemoveVoucher снимает ваучер по ID корректировки.
func (s *Service) RemoveVoucher(ctx context.Context, orderID, adjustmentID string) (domain.Order, voucher.Outcome, error) {
	var out voucher.Outcome
	order, err := s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		var err error
		out, err = s.vouchers.Remove(ctx, tx.Order, adjustmentID)
		return err
	})
	if err != nil {
		return domain.Order{}, voucher.Outcome{}, err
	}
	s.record(orderID, domain.EventVoucherRemoved, map[string]interface{}{
		"voucher_id":    out.Adjustment.Originator.ID,
		"adjustment_id": out.Adjustment.ID,
		"invalidated":   out.Invalidated,
	})
	return order, out, nil
}

// RevokeVoucher снимает ваучер с заказа по ID ваучера. Если он не применён, ничего не делает.
func (s *Service) RevokeVoucher(ctx context.Context, orderID, voucherID string) (domain.Order, bool, error) {
	var (
		out     voucher.Outcome
		revoked bool
	)
	order, err := s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		revoked = false
		current, ok := voucher.Current(*tx.Order)
		if !ok || current.Originator.ID != voucherID {
			return nil
		}
		var err error
		out, err = s.vouchers.Remove(ctx, tx.Order, current.ID)
		revoked = err == nil
		return err
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	if revoked {
		s.record(orderID, domain.EventVoucherRemoved, map[string]interface{}{
			"voucher_id":    voucherID,
			"adjustment_id": out.Adjustment.ID,
			"invalidated":   out.Invalidated,
			"reason":        "voucher revoked",
		})
	}
	return order, revoked, nil
}

// Checkout отправляет шаг оформления.
func (s *Service) Checkout(ctx context.Context, orderID string, sub checkout.Submission) (domain.Order, checkout.Outcome, error) {
	return s.machine.Submit(ctx, orderID, sub)
}

// Cancel отменяет незавершённый заказ.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "canceled by customer"
	}
	return s.machine.Cancel(ctx, orderID, reason)
}

// Timeline возвращает историю событий заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.orders.Get(orderID); err != nil {
		return nil, err
	}
	if s.recorder == nil {
		return nil, nil
	}
	return s.recorder.Timeline(orderID)
}

func (s *Service) record(orderID, eventType string, payload map[string]interface{}) {
	if s.recorder != nil {
		s.recorder.Record(orderID, eventType, payload)
	}
}

func notFinal(order domain.Order) error {
	switch order.State {
	case domain.StateComplete:
		return domain.ErrOrderCompleted
	case domain.StateCanceled:
		return domain.ErrOrderCanceled
	}
	return nil
}

// events копит события внутри попытки guard и пишет их только после сохранения.
type events []func(r *audit.Recorder)

func (e *events) add(orderID, eventType string, payload map[string]interface{}) {
	*e = append(*e, func(r *audit.Recorder) { r.Record(orderID, eventType, payload) })
}

func (e *events) transition(orderID string, from, to domain.CheckoutState) {
	*e = append(*e, func(r *audit.Recorder) { r.Transition(orderID, from, to) })
}

func (e events) flush(r *audit.Recorder) {
	if r == nil {
		return
	}
	for _, fn := range e {
		fn(r)
	}
}

// AsStockError извлекает отказ по остаткам из ошибки операции с корзиной.
func AsStockError(err error) (*domain.StockError, bool) {
	var se *domain.StockError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
