package storefront

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"
)

// OrderView — представление заказа для транспортов (gRPC и REST).
// Суммы в минимальных единицах валюты, display_total — десятичная строка.
type OrderView struct {
	ID               string                `json:"id"`
	CustomerID       string                `json:"customer_id,omitempty"`
	Email            string                `json:"email,omitempty"`
	Currency         string                `json:"currency"`
	HubID            string                `json:"hub_id,omitempty"`
	OrderCycleID     string                `json:"order_cycle_id,omitempty"`
	State            string                `json:"state"`
	LineItems        []LineItemView        `json:"line_items"`
	Adjustments      []AdjustmentView      `json:"adjustments"`
	Payments         []PaymentView         `json:"payments"`
	BillAddress      *domain.Address       `json:"bill_address,omitempty"`
	ShipAddress      *domain.Address       `json:"ship_address,omitempty"`
	ShippingMethodID string                `json:"shipping_method_id,omitempty"`
	PaymentMethodID  string                `json:"payment_method_id,omitempty"`
	Totals           domain.OrderTotals    `json:"totals"`
	DisplayTotal     string                `json:"display_total"`
	Warnings         []string              `json:"warnings,omitempty"`
	Stock            map[string]StockLevel `json:"stock,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	Version          int64                 `json:"version"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// LineItemView — позиция корзины.
type LineItemView struct {
	ID          string `json:"id"`
	VariantID   string `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	MaxQuantity int    `json:"max_quantity,omitempty"`
	PriceMinor  int64  `json:"price_minor"`
	AmountMinor int64  `json:"amount_minor"`
}

// AdjustmentView — денежная строка заказа.
type AdjustmentView struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	OriginatorKind string `json:"originator_kind"`
	OriginatorID   string `json:"originator_id"`
	AdjustableKind string `json:"adjustable_kind"`
	AdjustableID   string `json:"adjustable_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Included       bool   `json:"included,omitempty"`
	State          string `json:"state"`
}

// PaymentView — платёж заказа.
type PaymentView struct {
	ID              string `json:"id"`
	PaymentMethodID string `json:"payment_method_id"`
	AmountMinor     int64  `json:"amount_minor"`
	State           string `json:"state"`
	RedirectURL     string `json:"redirect_url,omitempty"`
}

// TimelineEntryView — запись истории заказа.
type TimelineEntryView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// View строит представление заказа.
func View(order domain.Order) OrderView {
	v := OrderView{
		ID:               order.ID,
		CustomerID:       order.CustomerID,
		Email:            order.Email,
		Currency:         order.Currency,
		HubID:            order.HubID,
		OrderCycleID:     order.OrderCycleID,
		State:            string(order.State),
		LineItems:        make([]LineItemView, 0, len(order.LineItems)),
		Adjustments:      make([]AdjustmentView, 0, len(order.Adjustments)),
		Payments:         make([]PaymentView, 0, len(order.Payments)),
		BillAddress:      order.BillAddress,
		ShipAddress:      order.ShipAddress,
		ShippingMethodID: order.ShippingMethodID,
		PaymentMethodID:  order.PaymentMethodID,
		Totals:           order.Totals,
		DisplayTotal:     DisplayAmount(order.Totals.Total),
		CompletedAt:      order.CompletedAt,
		Version:          order.Version,
		UpdatedAt:        order.UpdatedAt,
	}
	for _, li := range order.LineItems {
		v.LineItems = append(v.LineItems, LineItemView{
			ID:          li.ID,
			VariantID:   li.VariantID,
			Quantity:    li.Quantity,
			MaxQuantity: li.MaxQuantity,
			PriceMinor:  li.PriceMinor,
			AmountMinor: li.AmountMinor(),
		})
	}
	for _, adj := range order.Adjustments {
		v.Adjustments = append(v.Adjustments, AdjustmentView{
			ID:             adj.ID,
			Label:          adj.Label,
			OriginatorKind: string(adj.Originator.Kind),
			OriginatorID:   adj.Originator.ID,
			AdjustableKind: string(adj.Adjustable.Kind),
			AdjustableID:   adj.Adjustable.ID,
			AmountMinor:    adj.AmountMinor,
			Included:       adj.Included,
			State:          string(adj.State),
		})
	}
	for _, p := range order.Payments {
		v.Payments = append(v.Payments, PaymentView{
			ID:              p.ID,
			PaymentMethodID: p.PaymentMethodID,
			AmountMinor:     p.AmountMinor,
			State:           string(p.State),
			RedirectURL:     p.RedirectURL,
		})
	}
	return v
}

// ViewWithRecompute добавляет предупреждения пересчёта.
func ViewWithRecompute(order domain.Order, res adjustments.Result) OrderView {
	v := View(order)
	v.Warnings = res.Warnings
	return v
}

// TimelineView строит историю заказа.
func TimelineView(events []domain.TimelineEvent) []TimelineEntryView {
	out := make([]TimelineEntryView, 0, len(events))
	for _, e := range events {
		out = append(out, TimelineEntryView{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	return out
}

// DisplayAmount форматирует сумму в минимальных единицах как "12.34".
func DisplayAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
