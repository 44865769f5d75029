package storefront

import (
	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/hubcart/internal/service/voucher"
)

// Запросы транспортов. gRPC декодирует их из google.protobuf.Struct,
// REST — из JSON-тела; order_id в REST берётся из пути.

// OrderRef используется запросами, которым нужен только заказ.
type OrderRef struct {
	OrderID string `json:"order_id"`
}

// BindRequest привязывает заказ к хабу и окну продаж.
type BindRequest struct {
	OrderID      string `json:"order_id"`
	HubID        string `json:"hub_id" binding:"required"`
	OrderCycleID string `json:"order_cycle_id"`
}

type AssociateCustomerRequest struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id" binding:"required"`
}

// PopulateRequest задаёт количества позиций корзины.
type PopulateRequest struct {
	OrderID string        `json:"order_id"`
	Lines   []LineRequest `json:"lines" binding:"required,dive"`
}

type RemoveLineItemRequest struct {
	OrderID    string `json:"order_id"`
	LineItemID string `json:"line_item_id"`
}

// CheckoutRequest — отправка шага оформления.
type CheckoutRequest struct {
	OrderID          string          `json:"order_id"`
	Target           string          `json:"target" binding:"required"`
	BillAddress      *domain.Address `json:"bill_address"`
	ShipAddress      *domain.Address `json:"ship_address"`
	ShippingMethodID string          `json:"shipping_method_id"`
	PaymentMethodID  string          `json:"payment_method_id"`
}

// Submission переводит запрос в команду машины состояний.
func (r CheckoutRequest) Submission() checkout.Submission {
	return checkout.Submission{
		Target:           domain.CheckoutState(r.Target),
		BillAddress:      r.BillAddress,
		ShipAddress:      r.ShipAddress,
		ShippingMethodID: r.ShippingMethodID,
		PaymentMethodID:  r.PaymentMethodID,
	}
}

// ApplyVoucherRequest — применение кода ваучера.
type ApplyVoucherRequest struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
}

// RemoveVoucherRequest — снятие ваучера по ID корректировки.
type RemoveVoucherRequest struct {
	OrderID      string `json:"order_id"`
	AdjustmentID string `json:"adjustment_id"`
}

type CancelRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// Ответы транспортов.

type OrderResponse struct {
	Order OrderView `json:"order"`
}

// BindResponse — заказ и итог привязки.
type BindResponse struct {
	Order        OrderView `json:"order"`
	Emptied      bool      `json:"emptied"`
	HubSwitched  bool      `json:"hub_switched"`
	AutoSelected bool      `json:"auto_selected"`
	Candidates   int       `json:"candidates,omitempty"`
}

// CheckoutResponse — заказ и итог шага.
type CheckoutResponse struct {
	Order          OrderView `json:"order"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	RedirectURL    string    `json:"redirect_url,omitempty"`
	PaymentSkipped bool      `json:"payment_skipped,omitempty"`
}

// VoucherResponse — заказ и итог применения или снятия ваучера.
type VoucherResponse struct {
	Order               OrderView `json:"order"`
	AdjustmentID        string    `json:"adjustment_id,omitempty"`
	// AmountMinor — сумма корректировки со знаком, как в списке корректировок: скидка отрицательна.
	AmountMinor         int64     `json:"amount_minor"`
	InvalidatedPayments int       `json:"invalidated_payments"`
}

// TimelineResponse содержит историю заказа.
type TimelineResponse struct {
	OrderID string              `json:"order_id"`
	Events  []TimelineEntryView `json:"events"`
}

// NewBindResponse собирает ответ привязки.
func NewBindResponse(res BindResult) BindResponse {
	return BindResponse{
		Order:        View(res.Order),
		Emptied:      res.Emptied,
		HubSwitched:  res.HubSwitched,
		AutoSelected: res.AutoSelected,
		Candidates:   res.Candidates,
	}
}

// NewCartResponse собирает ответ изменения корзины вместе с уровнями остатков.
func NewCartResponse(res CartResult) OrderResponse {
	v := View(res.Order)
	v.Stock = res.Stock
	v.Warnings = res.Warnings
	return OrderResponse{Order: v}
}

// NewCheckoutResponse собирает ответ шага оформления.
func NewCheckoutResponse(order domain.Order, out checkout.Outcome) CheckoutResponse {
	v := View(order)
	v.Warnings = out.Warnings
	return CheckoutResponse{
		Order:          v,
		From:           string(out.From),
		To:             string(out.To),
		RedirectURL:    out.RedirectURL,
		PaymentSkipped: out.PaymentSkipped,
	}
}

// NewVoucherResponse собирает ответ операции с ваучером.
func NewVoucherResponse(order domain.Order, out voucher.Outcome) VoucherResponse {
	return VoucherResponse{
		Order:               ViewWithRecompute(order, out.Recompute),
		AdjustmentID:        out.Adjustment.ID,
		AmountMinor:         out.Adjustment.AmountMinor,
		InvalidatedPayments: out.Invalidated,
	}
}

// NewTimelineResponse собирает историю заказа.
func NewTimelineResponse(orderID string, events []domain.TimelineEvent) TimelineResponse {
	return TimelineResponse{OrderID: orderID, Events: TimelineView(events)}
}
