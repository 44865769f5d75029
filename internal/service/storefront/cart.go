package storefront

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/guard"
	"github.com/vladislavdragonenkov/hubcart/internal/service/stock"
)

// LineRequest — желаемое количество варианта в корзине. Quantity=0 удаляет позицию.
type LineRequest struct {
	VariantID   string `json:"variant_id" binding:"required"`
	Quantity    int    `json:"quantity"`
	MaxQuantity int    `json:"max_quantity"`
}

// StockLevel — остаток варианта после изменения корзины.
// Неограниченный остаток передаётся конечным значением stock.UnlimitedSentinel.
type StockLevel struct {
	Quantity    int `json:"quantity"`
	MaxQuantity int `json:"max_quantity"`
	OnHand      int `json:"on_hand"`
}

// CartResult — состояние корзины после Populate.
type CartResult struct {
	Order    domain.Order
	Stock    map[string]StockLevel
	Warnings []string
}

// Populate устанавливает количества позиций. Количество сверх остатка
// отклоняется: позиция остаётся с последним сохранённым количеством (новая не
// добавляется), остальные строки применяются, а вызывающий получает
// *domain.StockError вместе с актуальными уровнями остатков.
//
// Завершённый заказ можно менять, только если хаб это разрешает и окно продаж
// открыто. Разница количеств резервируется или возвращается сразу.
func (s *Service) Populate(ctx context.Context, orderID string, lines []LineRequest) (CartResult, error) {
	var (
		res CartResult
		ev  events
	)
	order, err := s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		res = CartResult{Stock: make(map[string]StockLevel, len(lines))}
		ev = events{}
		return s.populate(ctx, tx, lines, &res, &ev)
	})
	if order.ID != "" {
		ev.flush(s.recorder)
		res.Order = order
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) populate(ctx context.Context, tx *guard.Tx, lines []LineRequest, res *CartResult, ev *events) error {
	o := tx.Order
	changing, ex, err := s.editableCart(*o)
	if err != nil {
		return err
	}

	var shortages []domain.StockShortage
	changed := false
	for _, req := range lines {
		if req.Quantity < 0 || req.MaxQuantity < 0 {
			return fmt.Errorf("%w: %s", domain.ErrLineItemQtyInvalid, req.VariantID)
		}
		idx := o.LineItemByVariant(req.VariantID)
		current, currentMax := 0, 0
		if idx >= 0 {
			current = o.LineItems[idx].Quantity
			currentMax = o.LineItems[idx].MaxQuantity
		}
		if req.Quantity > 0 && !ex.Carries(req.VariantID) {
			return fmt.Errorf("%w: %s", domain.ErrVariantUnavailable, req.VariantID)
		}

		avail, err := s.ledger.Available(req.VariantID, o.HubID)
		if err != nil {
			return err
		}
		// У завершённого заказа текущее количество уже зарезервировано.
		limit := avail.OnHand
		if changing {
			limit += current
		}
		if limit < 0 {
			limit = 0
		}

		granted, maxQty := req.Quantity, req.MaxQuantity
		if !avail.Unlimited && granted > limit {
			// Намерение покупателя не подменяем остатком: откат к сохранённому.
			granted, maxQty = current, currentMax
			shortages = append(shortages, domain.StockShortage{
				VariantID: req.VariantID,
				Requested: req.Quantity,
				Available: limit,
			})
		} else {
			if maxQty > 0 && maxQty < granted {
				maxQty = granted
			}
			if maxQty > 0 && !avail.Unlimited && maxQty > limit {
				maxQty = limit
			}
		}

		if changing && granted != current {
			if err := s.shiftReservation(tx, req.VariantID, granted-current, ev); err != nil {
				return err
			}
		}

		switch {
		case granted == 0 && idx >= 0:
			o.DropLineItem(o.LineItems[idx].ID)
			changed = true
		case granted == 0:
		case idx < 0:
			li, err := s.newLineItem(*o, req.VariantID, avail)
			if err != nil {
				return err
			}
			li.Quantity = granted
			li.MaxQuantity = maxQty
			o.LineItems = append(o.LineItems, li)
			changed = true
		default:
			li := &o.LineItems[idx]
			if li.Quantity != granted || li.MaxQuantity != maxQty {
				li.Quantity = granted
				li.MaxQuantity = maxQty
				changed = true
			}
		}

		onHand := avail.Reported()
		if changing && granted != current {
			if fresh, err := s.ledger.Available(req.VariantID, o.HubID); err == nil {
				onHand = fresh.Reported()
			}
		}
		res.Stock[req.VariantID] = StockLevel{Quantity: granted, MaxQuantity: maxQty, OnHand: onHand}
	}

	if changed {
		s.restartCheckout(o, ev)
	}
	recomputed, err := s.pipeline.Recompute(ctx, o)
	if err != nil {
		return err
	}
	res.Warnings = recomputed.Warnings

	if len(shortages) > 0 {
		if s.metrics != nil {
			s.metrics.RecordStockRejection()
		}
		s.logger.WithFields(log.Fields{
			"order_id": o.ID,
			"hub_id":   o.HubID,
			"lines":    len(shortages),
		}).Warn("cart quantities above available stock rejected")
		return guard.Persist(&domain.StockError{Lines: shortages})
	}
	return nil
}

// RemoveLineItem удаляет позицию вместе с зависящими от неё корректировками.
func (s *Service) RemoveLineItem(ctx context.Context, orderID, lineItemID string) (domain.Order, error) {
	var ev events
	order, err := s.guard.Mutate(ctx, orderID, func(tx *guard.Tx) error {
		ev = events{}
		o := tx.Order
		changing, _, err := s.editableCart(*o)
		if err != nil {
			return err
		}
		idx := o.FindLineItem(lineItemID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", domain.ErrLineItemNotFound, lineItemID)
		}
		li := o.LineItems[idx]
		if changing {
			if err := s.shiftReservation(tx, li.VariantID, -li.Quantity, &ev); err != nil {
				return err
			}
		}
		o.DropLineItem(lineItemID)
		s.restartCheckout(o, &ev)
		_, err = s.pipeline.Recompute(ctx, o)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	ev.flush(s.recorder)
	return order, nil
}

// editableCart проверяет, что корзину можно менять, и возвращает исходящий
// обмен окна на хаб. changing=true — это правка завершённого заказа.
func (s *Service) editableCart(o domain.Order) (bool, domain.Exchange, error) {
	if o.State == domain.StateCanceled {
		return false, domain.Exchange{}, domain.ErrOrderCanceled
	}
	hub, cycle, err := s.binder.Resolve(o)
	if err != nil {
		if errors.Is(err, domain.ErrWindowClosed) {
			return false, domain.Exchange{}, fmt.Errorf("%w: %s closed at %s", err, cycle.ID, cycle.ClosesAt.Format("2006-01-02 15:04"))
		}
		return false, domain.Exchange{}, err
	}
	changing := o.State == domain.StateComplete
	if changing && !hub.AllowOrderChanges {
		return false, domain.Exchange{}, domain.ErrOrderCompleted
	}
	ex, ok := cycle.OutgoingTo(o.HubID)
	if !ok {
		return false, domain.Exchange{}, fmt.Errorf("%w: %s does not distribute to %s", domain.ErrOrderCycleNotFound, cycle.ID, o.HubID)
	}
	return changing, ex, nil
}

// shiftReservation резервирует (delta>0) или возвращает (delta<0) остаток
// для правки завершённого заказа; откат попытки guard возвращает всё обратно.
func (s *Service) shiftReservation(tx *guard.Tx, variantID string, delta int, ev *events) error {
	hubID := tx.Order.HubID
	orderID := tx.Order.ID
	if delta > 0 {
		if err := s.ledger.Reserve(variantID, hubID, delta); err != nil {
			return err
		}
		tx.OnRollback(func() { s.releaseQuietly(variantID, hubID, delta) })
		ev.add(orderID, domain.EventStockReserved, map[string]interface{}{"variant_id": variantID, "quantity": delta})
		return nil
	}
	qty := -delta
	if err := s.ledger.Release(variantID, hubID, qty); err != nil {
		return err
	}
	tx.OnRollback(func() {
		if err := s.ledger.Reserve(variantID, hubID, qty); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{"variant_id": variantID, "hub_id": hubID}).
				Error("failed to restore stock reservation")
		}
	})
	ev.add(orderID, domain.EventStockReleased, map[string]interface{}{"variant_id": variantID, "quantity": qty})
	return nil
}

func (s *Service) releaseQuietly(variantID, hubID string, qty int) {
	if err := s.ledger.Release(variantID, hubID, qty); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"variant_id": variantID, "hub_id": hubID}).
			Error("failed to release stock reservation")
	}
}

// restartCheckout возвращает заказ в cart после изменения корзины посреди оформления.
func (s *Service) restartCheckout(o *domain.Order, ev *events) {
	if o.State == domain.StateCart || o.State.Final() {
		return
	}
	from := o.State
	o.State = domain.StateCart
	o.InvalidatePayments(s.now())
	ev.transition(o.ID, from, domain.StateCart)
}

func (s *Service) newLineItem(o domain.Order, variantID string, avail stock.Availability) (domain.LineItem, error) {
	variant, err := s.catalog.Variant(variantID)
	if err != nil {
		return domain.LineItem{}, err
	}
	price := variant.PriceMinor
	if avail.PriceMinor != nil {
		price = *avail.PriceMinor
	}
	return domain.LineItem{
		ID:            s.newID(),
		VariantID:     variantID,
		PriceMinor:    price,
		TaxCategoryID: variant.TaxCategoryID,
		SupplierID:    variant.SupplierID,
		CreatedAt:     s.now(),
	}, nil
}
