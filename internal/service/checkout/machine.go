package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
	"github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"
	"github.com/vladislavdragonenkov/hubcart/internal/service/audit"
	"github.com/vladislavdragonenkov/hubcart/internal/service/binder"
	"github.com/vladislavdragonenkov/hubcart/internal/service/guard"
	"github.com/vladislavdragonenkov/hubcart/internal/service/stock"
)

const tracerName = "github.com/vladislavdragonenkov/hubcart/internal/service/checkout"

// Submission — отправка шага оформления: целевое состояние и данные формы шага.
type Submission struct {
	Target domain.CheckoutState
	// BillAddress и ShipAddress — данные шага delivery.
	BillAddress *domain.Address
	ShipAddress *domain.Address
	// ShippingMethodID — данные шага payment.
	ShippingMethodID string
	// PaymentMethodID — данные шага confirmation.
	PaymentMethodID string
}

// Outcome — итог отправки шага.
type Outcome struct {
	From domain.CheckoutState
	To   domain.CheckoutState
	// RedirectURL заполнен, если провайдер требует подтверждения платежа на своей стороне.
	RedirectURL string
	// PaymentSkipped — итог после ваучера нулевой, оплата не проводилась.
	PaymentSkipped bool
	Warnings       []string

	emit []func(r *audit.Recorder)
}

func (o *Outcome) transition(orderID string, from, to domain.CheckoutState) {
	o.emit = append(o.emit, func(r *audit.Recorder) { r.Transition(orderID, from, to) })
}

func (o *Outcome) event(orderID, eventType string, payload map[string]interface{}) {
	o.emit = append(o.emit, func(r *audit.Recorder) { r.Record(orderID, eventType, payload) })
}

// Deps — зависимости машины состояний.
type Deps struct {
	Catalog  domain.CatalogRepository
	Orders   domain.OrderRepository
	Guard    *guard.Guard
	Binder   *binder.Binder
	Ledger   *stock.Ledger
	Pipeline *adjustments.Pipeline
	Gateway  domain.PaymentGateway
	Recorder *audit.Recorder
	Metrics  *metrics.CheckoutMetrics
	Tracer   trace.Tracer
	Logger   *log.Entry
	Now      func() time.Time
	NewID    func() string
}

// Machine ведёт заказ по шагам cart → address → delivery → payment → confirmation → complete.
// За одну отправку заказ переходит не более чем на один шаг вперёд.
type Machine struct {
	catalog  domain.CatalogRepository
	orders   domain.OrderRepository
	guard    *guard.Guard
	binder   *binder.Binder
	ledger   *stock.Ledger
	pipeline *adjustments.Pipeline
	gateway  domain.PaymentGateway
	recorder *audit.Recorder
	metrics  *metrics.CheckoutMetrics
	tracer   trace.Tracer
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// New создаёт машину состояний оформления.
func New(d Deps) *Machine {
	m := &Machine{
		catalog:  d.Catalog,
		orders:   d.Orders,
		guard:    d.Guard,
		binder:   d.Binder,
		ledger:   d.Ledger,
		pipeline: d.Pipeline,
		gateway:  d.Gateway,
		recorder: d.Recorder,
		metrics:  d.Metrics,
		tracer:   d.Tracer,
		logger:   d.Logger,
		now:      d.Now,
		newID:    d.NewID,
	}
	if m.logger == nil {
		m.logger = log.New().WithField("component", "checkout")
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Submit применяет шаг оформления под блокировкой заказа.
// Повторная отправка того же шага ничего не меняет. При конфликте версий
// проверки шага выполняются заново на свежих данных.
func (m *Machine) Submit(ctx context.Context, orderID string, sub Submission) (domain.Order, Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "CheckoutStateMachine.Submit", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("checkout.target", string(sub.Target)),
	))
	defer span.End()

	var out Outcome
	order, err := m.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		out = Outcome{}
		return m.advance(ctx, tx, sub, &out)
	})
	if order.ID != "" {
		m.flush(out)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return order, out, err
	}
	span.SetAttributes(attribute.String("checkout.state", string(order.State)))
	return order, out, nil
}

// Cancel окончательно отменяет незавершённый заказ.
func (m *Machine) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	var out Outcome
	order, err := m.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		out = Outcome{}
		o := tx.Order
		switch o.State {
		case domain.StateComplete:
			return domain.ErrOrderCompleted
		case domain.StateCanceled:
			return domain.ErrOrderCanceled
		}
		from := o.State
		o.State = domain.StateCanceled
		o.InvalidatePayments(m.now())
		out.event(o.ID, domain.EventOrderCanceled, map[string]interface{}{"reason": reason})
		out.transition(o.ID, from, domain.StateCanceled)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	m.flush(out)
	m.logger.WithFields(log.Fields{"order_id": orderID, "reason": reason}).Info("order canceled")
	return order, nil
}

func (m *Machine) flush(out Outcome) {
	if m.recorder == nil {
		return
	}
	for _, fn := range out.emit {
		fn(m.recorder)
	}
}

func (m *Machine) advance(ctx context.Context, tx *guard.Tx, sub Submission, out *Outcome) error {
	order := tx.Order
	from := order.State
	out.From, out.To = from, from

	switch from {
	case domain.StateCanceled:
		return domain.ErrOrderCanceled
	case domain.StateComplete:
		if sub.Target == domain.StateComplete {
			return nil
		}
		return domain.ErrOrderCompleted
	}
	if !sub.Target.Valid() || sub.Target == domain.StateCanceled {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCheckoutState, sub.Target)
	}
	if sub.Target == from {
		return nil
	}
	if sub.Target.Index() < from.Index() {
		// Возврат к пройденному шагу проверок не требует.
		m.enter(order, sub.Target, out)
		return nil
	}
	if sub.Target != from.Next() {
		return fmt.Errorf("%w: %s -> %s", domain.ErrStateSkipped, from, sub.Target)
	}

	var err error
	switch sub.Target {
	case domain.StateAddress:
		err = m.enterAddress(ctx, order, out)
	case domain.StateDelivery:
		err = m.enterDelivery(ctx, order, sub, out)
	case domain.StatePayment:
		err = m.enterPayment(ctx, order, sub, out)
	case domain.StateConfirmation:
		err = m.enterConfirmation(ctx, order, sub, out)
	case domain.StateComplete:
		err = m.complete(ctx, tx, out)
	}
	if err != nil {
		return m.reject(order, sub.Target, err, out)
	}
	return nil
}

func (m *Machine) enter(order *domain.Order, to domain.CheckoutState, out *Outcome) {
	from := order.State
	order.State = to
	out.To = to
	out.transition(order.ID, from, to)
	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"state":    to,
	}).Info("checkout state changed")
}

// reject фиксирует отказ проверки. Если проверка требует вернуть покупателя
// в корзину, возврат сохраняется вместе с ошибкой.
func (m *Machine) reject(order *domain.Order, target domain.CheckoutState, err error, out *Outcome) error {
	var ge *domain.GuardError
	if !errors.As(err, &ge) {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordGuardRejection(string(target))
	}
	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"state":    order.State,
		"target":   target,
	}).Warn(ge.Error())

	if ge.Redirect == domain.StateCart && order.State != domain.StateCart {
		m.enter(order, domain.StateCart, out)
		return guard.Persist(ge)
	}
	return ge
}

func (m *Machine) recompute(ctx context.Context, order *domain.Order, out *Outcome) error {
	res, err := m.pipeline.Recompute(ctx, order)
	if err != nil {
		return err
	}
	out.Warnings = append(out.Warnings, res.Warnings...)
	return nil
}
