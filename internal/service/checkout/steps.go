package checkout

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/guard"
)

// Куда вернуть покупателя при отказе проверки.
const (
	RedirectCart = "cart"
	RedirectShop = "shop"
)

// enterAddress: корзина не пуста, заказ привязан к хабу и открытому окну, хаб принимает заказы.
func (m *Machine) enterAddress(ctx context.Context, order *domain.Order, out *Outcome) error {
	target := domain.StateAddress
	if order.IsEmpty() {
		return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectCart,
			Flash: "your cart is empty"}
	}
	hub, cycle, err := m.binder.Resolve(*order)
	switch {
	case errors.Is(err, domain.ErrOrderNotBound):
		return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectShop,
			Flash: "please choose a hub and order cycle"}
	case errors.Is(err, domain.ErrWindowClosed):
		closesAt := cycle.ClosesAt
		return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectShop,
			Flash: "the order cycle you've selected has closed", WindowClosesAt: &closesAt}
	case errors.Is(err, domain.ErrNoSuchHub), errors.Is(err, domain.ErrOrderCycleNotFound):
		return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectShop,
			Flash: err.Error()}
	case err != nil:
		return err
	}
	if !hub.ReadyForCheckout() {
		return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectShop,
			Flash: "this hub is not accepting orders right now"}
	}

	if err := m.recompute(ctx, order, out); err != nil {
		return err
	}
	m.enter(order, target, out)
	return nil
}

// enterDelivery: нужен корректный платёжный адрес. Источники по приоритету:
// отправленная форма, адрес заказа, сохранённый адрес покупателя,
// последний адрес этого email, адрес хаба по умолчанию.
func (m *Machine) enterDelivery(ctx context.Context, order *domain.Order, sub Submission, out *Outcome) error {
	bill, err := m.resolveBillAddress(*order, sub)
	if err != nil {
		return err
	}
	if fields := bill.Validate(); len(fields) > 0 {
		return &domain.GuardError{State: domain.StateDelivery, Fields: prefixed("bill_address", fields),
			Flash: "please check your billing address"}
	}
	order.BillAddress = bill.Clone()
	if sub.ShipAddress != nil {
		order.ShipAddress = sub.ShipAddress.Clone()
	} else if order.ShipAddress == nil && order.CustomerID != "" {
		if customer, err := m.catalog.Customer(order.CustomerID); err == nil && customer.ShipAddress != nil {
			order.ShipAddress = customer.ShipAddress.Clone()
		}
	}

	// Платёжный адрес определяет налоговую зону.
	if err := m.recompute(ctx, order, out); err != nil {
		return err
	}
	m.enter(order, domain.StateDelivery, out)
	return nil
}

// resolveBillAddress: отправленный адрес, сохранённый адрес клиента, последний
// адрес этого email. Адрес с прошлого прохода оформления идёт после них и
// перед адресом хаба.
func (m *Machine) resolveBillAddress(order domain.Order, sub Submission) (*domain.Address, error) {
	if sub.BillAddress != nil {
		return sub.BillAddress, nil
	}
	if order.CustomerID != "" {
		customer, err := m.catalog.Customer(order.CustomerID)
		switch {
		case err == nil && customer.BillAddress != nil:
			return customer.BillAddress, nil
		case err != nil && !errors.Is(err, domain.ErrCustomerNotFound):
			return nil, fmt.Errorf("load customer: %w", err)
		}
	}
	if order.Email != "" {
		last, err := m.orders.LastByEmail(order.Email, order.ID)
		switch {
		case err == nil && last.BillAddress != nil:
			return last.BillAddress, nil
		case err != nil && !errors.Is(err, domain.ErrOrderNotFound):
			return nil, fmt.Errorf("load previous order: %w", err)
		}
	}
	if order.BillAddress != nil {
		return order.BillAddress, nil
	}
	hub, err := m.catalog.Enterprise(order.HubID)
	if err == nil && hub.Address != nil {
		return hub.Address, nil
	}
	return nil, nil
}

// enterPayment: выбран способ доставки хаба; если доставка требует адреса, он должен быть указан.
func (m *Machine) enterPayment(ctx context.Context, order *domain.Order, sub Submission, out *Outcome) error {
	target := domain.StatePayment
	methodID := sub.ShippingMethodID
	if methodID == "" {
		methodID = order.ShippingMethodID
	}
	if methodID == "" {
		return &domain.GuardError{State: target, Flash: "please select a shipping method",
			Fields: map[string]string{"shipping_method_id": "can't be blank"}}
	}

	hub, err := m.catalog.Enterprise(order.HubID)
	if err != nil {
		return fmt.Errorf("load hub: %w", err)
	}
	method, err := m.catalog.ShippingMethod(methodID)
	if errors.Is(err, domain.ErrShippingMethodNotFound) || (err == nil && !hub.OffersShipping(methodID)) {
		return &domain.GuardError{State: target, Flash: "the selected shipping method is not available",
			Fields: map[string]string{"shipping_method_id": "is not available"}}
	}
	if err != nil {
		return fmt.Errorf("load shipping method: %w", err)
	}

	if method.RequiresAddress {
		ship := sub.ShipAddress
		if ship == nil {
			ship = order.ShipAddress
		}
		if fields := ship.Validate(); len(fields) > 0 {
			return &domain.GuardError{State: target, Flash: method.Name + " requires a delivery address",
				Fields: prefixed("ship_address", fields)}
		}
		order.ShipAddress = ship.Clone()
	}
	order.ShippingMethodID = methodID

	if err := m.recompute(ctx, order, out); err != nil {
		return err
	}
	m.enter(order, target, out)
	return nil
}

// enterConfirmation: все позиции есть на складе и выбран способ оплаты.
// Нехватка остатков возвращает покупателя в корзину. Здесь же создаётся платёж
// на итоговую сумму; при нулевом итоге платёж не нужен.
func (m *Machine) enterConfirmation(ctx context.Context, order *domain.Order, sub Submission, out *Outcome) error {
	target := domain.StateConfirmation
	if err := m.stockGuard(*order, target); err != nil {
		return err
	}

	methodID := sub.PaymentMethodID
	if methodID == "" {
		methodID = order.PaymentMethodID
	}
	if methodID != "" {
		hub, err := m.catalog.Enterprise(order.HubID)
		if err != nil {
			return fmt.Errorf("load hub: %w", err)
		}
		if _, err := m.catalog.PaymentMethod(methodID); err != nil || !hub.OffersPayment(methodID) {
			if err != nil && !errors.Is(err, domain.ErrPaymentMethodNotFound) {
				return fmt.Errorf("load payment method: %w", err)
			}
			return &domain.GuardError{State: target, Flash: "the selected payment method is not available",
				Fields: map[string]string{"payment_method_id": "is not available"}}
		}
	}
	order.PaymentMethodID = methodID

	if err := m.recompute(ctx, order, out); err != nil {
		return err
	}

	now := m.now()
	if !order.Totals.PaymentRequired() {
		order.InvalidatePayments(now)
		out.PaymentSkipped = true
		m.enter(order, target, out)
		return nil
	}
	if methodID == "" {
		return &domain.GuardError{State: target, Flash: "please select a payment method",
			Fields: map[string]string{"payment_method_id": "can't be blank"}}
	}

	order.InvalidatePayments(now)
	order.Payments = append(order.Payments, domain.Payment{
		ID:              m.newID(),
		OrderID:         order.ID,
		PaymentMethodID: methodID,
		AmountMinor:     order.Totals.Total,
		State:           domain.PaymentStateCheckout,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	m.enter(order, target, out)
	return nil
}

func (m *Machine) stockGuard(order domain.Order, target domain.CheckoutState) error {
	shortages, err := m.ledger.InsufficientStockLines(order)
	if err != nil {
		return err
	}
	if len(shortages) == 0 {
		return nil
	}
	if m.metrics != nil {
		m.metrics.RecordStockRejection()
	}
	stockErr := &domain.StockError{Lines: shortages}
	return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectCart,
		Flash: stockErr.Error()}
}

// complete — двухфазное завершение: резерв остатков (с компенсацией при откате),
// затем авторизация платежа. Неудачный платёж возвращает заказ на шаг payment.
func (m *Machine) complete(ctx context.Context, tx *guard.Tx, out *Outcome) error {
	order := tx.Order
	target := domain.StateComplete

	hub, cycle, err := m.binder.Resolve(*order)
	if errors.Is(err, domain.ErrWindowClosed) {
		closesAt := cycle.ClosesAt
		return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectShop,
			Flash: "the order cycle you've selected has closed", WindowClosesAt: &closesAt}
	}
	if err != nil {
		return err
	}
	if err := m.stockGuard(*order, target); err != nil {
		return err
	}
	if err := m.recompute(ctx, order, out); err != nil {
		return err
	}

	reserved := order.Clone()
	if err := m.ledger.ReserveOrder(reserved); err != nil {
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			if m.metrics != nil {
				m.metrics.RecordStockRejection()
			}
			return &domain.GuardError{State: target, Redirect: domain.StateCart, RedirectTo: RedirectCart,
				Flash: stockErr.Error()}
		}
		return err
	}
	released := false
	release := func() {
		if !released {
			released = true
			m.ledger.ReleaseOrder(reserved)
		}
	}
	tx.OnRollback(release)

	now := m.now()
	if order.Totals.PaymentRequired() {
		done, err := m.authorize(ctx, order, out)
		if err != nil || !done {
			release()
			return err
		}
	} else {
		order.InvalidatePayments(now)
		out.PaymentSkipped = true
	}

	order.CompletedAt = &now
	out.event(order.ID, domain.EventStockReserved, map[string]interface{}{"lines": len(order.LineItems)})
	if !hub.AllowOrderChanges {
		closed := m.pipeline.Finalize(order)
		out.event(order.ID, domain.EventAdjustmentsFixed, map[string]interface{}{"closed": closed})
	}
	m.enter(order, target, out)
	return nil
}

// authorize проводит активный платёж через шлюз. done=false без ошибки означает,
// что провайдер ждёт подтверждения покупателя.
func (m *Machine) authorize(ctx context.Context, order *domain.Order, out *Outcome) (bool, error) {
	now := m.now()
	idx := order.PendingPayment()
	if idx < 0 || order.Payments[idx].AmountMinor != order.Totals.Total {
		order.InvalidatePayments(now)
		if order.PaymentMethodID == "" {
			return false, &domain.GuardError{State: domain.StateComplete, Flash: "please select a payment method",
				Fields: map[string]string{"payment_method_id": "can't be blank"}}
		}
		order.Payments = append(order.Payments, domain.Payment{
			ID:              m.newID(),
			OrderID:         order.ID,
			PaymentMethodID: order.PaymentMethodID,
			AmountMinor:     order.Totals.Total,
			State:           domain.PaymentStateCheckout,
			CreatedAt:       now,
		})
		idx = len(order.Payments) - 1
	}
	payment := &order.Payments[idx]

	method, err := m.catalog.PaymentMethod(payment.PaymentMethodID)
	if err != nil {
		return false, fmt.Errorf("load payment method: %w", err)
	}

	payment.State = domain.PaymentStatePending
	result := m.gateway.Authorize(ctx, *order, method, payment.AmountMinor)
	payment.UpdatedAt = m.now()
	payment.ExternalID = result.ExternalID

	fields := log.Fields{"order_id": order.ID, "payment_id": payment.ID}
	switch {
	case result.Err != nil:
		payment.State = domain.PaymentStateFailed
		m.logger.WithError(result.Err).WithFields(fields).Warn("payment authorization failed")
		out.event(order.ID, domain.EventPaymentFailed, map[string]interface{}{"reason": result.Err.Error()})
		// Неудачный платёж никогда не продвигает заказ: покупатель выбирает оплату заново.
		m.enter(order, domain.StatePayment, out)
		return false, guard.Persist(result.Err)
	case result.RedirectURL != "":
		payment.State = domain.PaymentStateRequiresAuthorization
		payment.RedirectURL = result.RedirectURL
		out.RedirectURL = result.RedirectURL
		out.event(order.ID, domain.EventPaymentRedirect, map[string]interface{}{"redirect_url": result.RedirectURL})
		return false, nil
	case !result.Success:
		payment.State = domain.PaymentStateFailed
		err := &domain.PaymentError{Message: "gateway returned no result"}
		out.event(order.ID, domain.EventPaymentFailed, map[string]interface{}{"reason": err.Error()})
		m.enter(order, domain.StatePayment, out)
		return false, guard.Persist(err)
	}
	payment.State = domain.PaymentStateCompleted
	return true, nil
}

func prefixed(prefix string, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[prefix+"."+k] = v
	}
	return out
}
