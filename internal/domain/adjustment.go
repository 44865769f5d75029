package domain

import (
	"fmt"
	"time"
)

// OriginatorKind — закрытое перечисление источников корректировок.
type OriginatorKind string

const (
	OriginatorEnterpriseFee  OriginatorKind = "enterprise_fee"
	OriginatorTaxRate        OriginatorKind = "tax_rate"
	OriginatorShippingMethod OriginatorKind = "shipping_method"
	OriginatorPaymentMethod  OriginatorKind = "payment_method"
	OriginatorVoucher        OriginatorKind = "voucher"
)

// Valid проверяет, что вид источника входит в перечисление.
func (k OriginatorKind) Valid() bool {
	switch k {
	case OriginatorEnterpriseFee, OriginatorTaxRate, OriginatorShippingMethod,
		OriginatorPaymentMethod, OriginatorVoucher:
		return true
	default:
		return false
	}
}

// IsTax сообщает, что корректировка — налог.
func (k OriginatorKind) IsTax() bool { return k == OriginatorTaxRate }

// Originator — вариант с тегом: вид плюс данные конкретного вида.
type Originator struct {
	Kind OriginatorKind
	ID   string
	// ExchangeID заполнен только у сборов, начисленных через обмен окна продаж.
	ExchangeID string
}

// FeeRole — где в цепочке возник сбор.
type FeeRole string

const (
	RoleNone        FeeRole = ""
	RoleCoordinator FeeRole = "coordinator"
	RoleSupplier    FeeRole = "supplier"
	RoleDistributor FeeRole = "distributor"
)

// AdjustableKind — к чему привязана корректировка.
type AdjustableKind string

const (
	AdjustableOrder      AdjustableKind = "order"
	AdjustableLineItem   AdjustableKind = "line_item"
	AdjustableAdjustment AdjustableKind = "adjustment"
)

// Adjustable — ссылка на объект, к которому относится корректировка.
type Adjustable struct {
	Kind AdjustableKind
	ID   string
}

// AdjustmentState — open пересчитывается каждый раз, closed заморожен.
type AdjustmentState string

const (
	AdjustmentOpen   AdjustmentState = "open"
	AdjustmentClosed AdjustmentState = "closed"
)

// Adjustment хранит вычисленную денежную строку заказа.
type Adjustment struct {
	ID          string
	OrderID     string
	Adjustable  Adjustable
	Originator  Originator
	Label       string
	AmountMinor int64
	// Included — налог уже входит в цену и не добавляется к итогу.
	Included bool
	State    AdjustmentState
	Role     FeeRole
	// TaxCategoryID — категория, по которой облагается сам сбор (после наследования).
	TaxCategoryID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key возвращает ключ сопоставления при пересчёте: одинаковый ключ обновляется на месте.
func (a Adjustment) Key() string {
	return fmt.Sprintf("%s:%s:%s|%s:%s",
		a.Originator.Kind, a.Originator.ID, a.Originator.ExchangeID,
		a.Adjustable.Kind, a.Adjustable.ID)
}

// Closed сообщает, что корректировка заморожена и учитывается по сохранённой сумме.
func (a Adjustment) Closed() bool {
	return a.State == AdjustmentClosed
}

// IsFee сообщает, что это сбор предприятия, доставки или оплаты (облагается налогом отдельно).
func (a Adjustment) IsFee() bool {
	switch a.Originator.Kind {
	case OriginatorEnterpriseFee, OriginatorShippingMethod, OriginatorPaymentMethod:
		return true
	default:
		return false
	}
}
