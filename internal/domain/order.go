package domain

import (
	"strings"
	"time"
)

// CheckoutState описывает шаг оформления заказа.
type CheckoutState string

const (
	StateCart         CheckoutState = "cart"
	StateAddress      CheckoutState = "address"
	StateDelivery     CheckoutState = "delivery"
	StatePayment      CheckoutState = "payment"
	StateConfirmation CheckoutState = "confirmation"
	StateComplete     CheckoutState = "complete"
	// StateCanceled — терминальное состояние, возврат из него запрещён.
	StateCanceled CheckoutState = "canceled"
)

var checkoutSequence = []CheckoutState{
	StateCart,
	StateAddress,
	StateDelivery,
	StatePayment,
	StateConfirmation,
	StateComplete,
}

// CheckoutSequence возвращает шаги оформления в обязательном порядке.
func CheckoutSequence() []CheckoutState {
	out := make([]CheckoutState, len(checkoutSequence))
	copy(out, checkoutSequence)
	return out
}

// Index возвращает позицию шага в последовательности или -1 для canceled/неизвестных.
func (s CheckoutState) Index() int {
	for i, st := range checkoutSequence {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid проверяет, что имя шага известно.
func (s CheckoutState) Valid() bool {
	return s == StateCanceled || s.Index() >= 0
}

// Next возвращает следующий шаг или пустую строку для терминальных состояний.
func (s CheckoutState) Next() CheckoutState {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(checkoutSequence) {
		return ""
	}
	return checkoutSequence[idx+1]
}

// Final сообщает, что из состояния нельзя продолжить оформление.
func (s CheckoutState) Final() bool {
	return s == StateComplete || s == StateCanceled
}

// Address — адрес покупателя.
type Address struct {
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
	Line1     string `json:"line1" yaml:"line1"`
	Line2     string `json:"line2,omitempty" yaml:"line2"`
	City      string `json:"city" yaml:"city"`
	Zip       string `json:"zip" yaml:"zip"`
	Country   string `json:"country" yaml:"country"`
	Phone     string `json:"phone" yaml:"phone"`
}

// Validate возвращает ошибки по полям; пустая карта — адрес пригоден.
func (a *Address) Validate() map[string]string {
	fields := make(map[string]string)
	if a == nil {
		fields["address"] = "is required"
		return fields
	}
	required := map[string]string{
		"first_name": a.FirstName,
		"last_name":  a.LastName,
		"line1":      a.Line1,
		"city":       a.City,
		"zip":        a.Zip,
		"country":    a.Country,
		"phone":      a.Phone,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			fields[name] = "can't be blank"
		}
	}
	return fields
}

// Clone возвращает независимую копию адреса.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// LineItem — позиция корзины.
type LineItem struct {
	ID        string
	VariantID string
	Quantity  int
	// MaxQuantity — верхняя граница для совместных закупок; 0 — не задана.
	MaxQuantity int
	// PriceMinor — цена за единицу на момент добавления (с учётом переопределения хаба).
	PriceMinor    int64
	TaxCategoryID string
	SupplierID    string
	CreatedAt     time.Time
}

// AmountMinor возвращает сумму позиции без корректировок.
func (li LineItem) AmountMinor() int64 {
	return li.PriceMinor * int64(li.Quantity)
}

// OrderTotals — производные суммы заказа, пересчитываются пайплайном.
type OrderTotals struct {
	ItemTotal          int64 `json:"item_total"`
	FeeTotal           int64 `json:"fee_total"`
	ShipTotal          int64 `json:"ship_total"`
	PaymentFeeTotal    int64 `json:"payment_fee_total"`
	AdditionalTaxTotal int64 `json:"additional_tax_total"`
	IncludedTaxTotal   int64 `json:"included_tax_total"`
	VoucherTotal       int64 `json:"voucher_total"`
	Total              int64 `json:"total"`
}

// TaxTotal — сумма включённого и добавленного налога.
func (t OrderTotals) TaxTotal() int64 {
	return t.IncludedTaxTotal + t.AdditionalTaxTotal
}

// PaymentRequired сообщает, нужно ли вообще проводить оплату.
func (t OrderTotals) PaymentRequired() bool {
	return t.Total > 0
}

// Order агрегирует корзину, корректировки и платежи покупателя.
type Order struct {
	ID         string
	CustomerID string
	Email      string
	Currency   string
	// HubID и OrderCycleID пустые, пока заказ не привязан.
	HubID        string
	OrderCycleID string
	State        CheckoutState

	LineItems   []LineItem
	Adjustments []Adjustment
	Payments    []Payment

	BillAddress      *Address
	ShipAddress      *Address
	ShippingMethodID string
	PaymentMethodID  string

	Totals      OrderTotals
	CompletedAt *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsEmpty — в корзине нет позиций.
func (o *Order) IsEmpty() bool {
	return len(o.LineItems) == 0
}

// Bound — заказ привязан и к хабу, и к окну продаж.
func (o *Order) Bound() bool {
	return o.HubID != "" && o.OrderCycleID != ""
}

// FindLineItem возвращает индекс позиции по ID или -1.
func (o *Order) FindLineItem(id string) int {
	for i := range o.LineItems {
		if o.LineItems[i].ID == id {
			return i
		}
	}
	return -1
}

// LineItemByVariant возвращает индекс позиции с вариантом или -1.
func (o *Order) LineItemByVariant(variantID string) int {
	for i := range o.LineItems {
		if o.LineItems[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

// FindAdjustment возвращает индекс корректировки по ID или -1.
func (o *Order) FindAdjustment(id string) int {
	for i := range o.Adjustments {
		if o.Adjustments[i].ID == id {
			return i
		}
	}
	return -1
}

// ClearCart удаляет позиции и все зависящие от них корректировки.
func (o *Order) ClearCart() {
	o.LineItems = nil
	o.Adjustments = nil
	o.Totals = OrderTotals{}
}

// InvalidatePayments переводит все незавершённые платежи в invalid.
func (o *Order) InvalidatePayments(now time.Time) int {
	n := 0
	for i := range o.Payments {
		if o.Payments[i].State.Settled() {
			continue
		}
		o.Payments[i].State = PaymentStateInvalid
		o.Payments[i].UpdatedAt = now
		n++
	}
	return n
}

// PendingPayment возвращает индекс активного (не финального) платежа или -1.
func (o *Order) PendingPayment() int {
	for i := len(o.Payments) - 1; i >= 0; i-- {
		if !o.Payments[i].State.Settled() {
			return i
		}
	}
	return -1
}

// Clone возвращает глубокую копию, чтобы репозитории не делили срезы с вызывающим кодом.
func (o Order) Clone() Order {
	c := o
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	c.Adjustments = append([]Adjustment(nil), o.Adjustments...)
	c.Payments = append([]Payment(nil), o.Payments...)
	c.BillAddress = o.BillAddress.Clone()
	c.ShipAddress = o.ShipAddress.Clone()
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// DropLineItem удаляет позицию вместе с её корректировками и налогами на них.
func (o *Order) DropLineItem(id string) bool {
	idx := o.FindLineItem(id)
	if idx < 0 {
		return false
	}
	o.LineItems = append(o.LineItems[:idx:idx], o.LineItems[idx+1:]...)

	dropped := map[string]bool{}
	kept := o.Adjustments[:0:0]
	for _, adj := range o.Adjustments {
		if adj.Adjustable.Kind == AdjustableLineItem && adj.Adjustable.ID == id {
			dropped[adj.ID] = true
			continue
		}
		kept = append(kept, adj)
	}
	result := kept[:0:0]
	for _, adj := range kept {
		if adj.Adjustable.Kind == AdjustableAdjustment && dropped[adj.Adjustable.ID] {
			continue
		}
		result = append(result, adj)
	}
	o.Adjustments = result
	return true
}
