package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Enterprise описывает поставщика, координатора или хаб.
type Enterprise struct {
	ID    string
	Name  string
	IsHub bool
	// хаб сейчас принимает заказы
	Active bool
	// AllowOrderChanges разрешает менять завершённый заказ, пока окно открыто.
	AllowOrderChanges bool
	DefaultZoneID     string
	Address           *Address
	ShippingMethodIDs []string
	PaymentMethodIDs  []string
}

// ReadyForCheckout сообщает, что хаб активен и настроил доставку и оплату.
func (e Enterprise) ReadyForCheckout() bool {
	return e.IsHub && e.Active && len(e.ShippingMethodIDs) > 0 && len(e.PaymentMethodIDs) > 0
}

// OffersShipping проверяет, что хаб предлагает способ доставки.
func (e Enterprise) OffersShipping(id string) bool { return contains(e.ShippingMethodIDs, id) }

// OffersPayment проверяет, что хаб предлагает способ оплаты.
func (e Enterprise) OffersPayment(id string) bool { return contains(e.PaymentMethodIDs, id) }

// Zone задаёт географическую зону налогообложения.
type Zone struct {
	ID        string
	Name      string
	Countries []string
}

// Includes проверяет, входит ли страна в зону.
func (z Zone) Includes(country string) bool { return contains(z.Countries, country) }

// TaxRate — ставка для категории в зоне; Amount — доля (0.1 = 10%).
type TaxRate struct {
	ID              string
	Name            string
	TaxCategoryID   string
	ZoneID          string
	Amount          decimal.Decimal
	IncludedInPrice bool
}

// Variant описывает продаваемую единицу каталога.
type Variant struct {
	ID            string
	Name          string
	SupplierID    string
	PriceMinor    int64
	TaxCategoryID string
}

// StockRecord — остаток варианта. HubID пустой у базовой записи каталога,
// заполненный — у переопределения хаба.
type StockRecord struct {
	VariantID   string
	HubID       string
	CountOnHand int
	OnDemand    bool
	// PriceMinor — цена хаба, перекрывающая цену каталога (только у переопределения).
	PriceMinor *int64
	UpdatedAt  time.Time
}

// IsOverride сообщает, что запись относится к конкретному хабу.
func (s StockRecord) IsOverride() bool { return s.HubID != "" }

// Unlimited сообщает, что запись не ограничивает количество.
func (s StockRecord) Unlimited() bool {
	if s.OnDemand {
		return true
	}
	// Отрицательный счётчик переопределения разрешает предзаказ.
	return s.IsOverride() && s.CountOnHand < 0
}

// OrderCycle — окно продаж с обменами координатора.
type OrderCycle struct {
	ID                string
	Name              string
	CoordinatorID     string
	OpensAt           time.Time
	ClosesAt          time.Time
	CoordinatorFeeIDs []string
	Exchanges         []Exchange
}

// IsOpen сообщает, принимает ли окно заказы в момент now.
func (oc OrderCycle) IsOpen(now time.Time) bool {
	return !now.Before(oc.OpensAt) && now.Before(oc.ClosesAt)
}

// DistributesTo проверяет, есть ли у окна исходящий обмен на хаб.
func (oc OrderCycle) DistributesTo(hubID string) bool {
	_, ok := oc.OutgoingTo(hubID)
	return ok
}

// OutgoingTo возвращает исходящий обмен координатора на хаб.
func (oc OrderCycle) OutgoingTo(hubID string) (Exchange, bool) {
	for _, ex := range oc.Exchanges {
		if !ex.Incoming && ex.ReceiverID == hubID {
			return ex, true
		}
	}
	return Exchange{}, false
}

// IncomingFor возвращает входящий обмен, через который поставляется вариант.
func (oc OrderCycle) IncomingFor(variantID string) (Exchange, bool) {
	for _, ex := range oc.Exchanges {
		if ex.Incoming && contains(ex.VariantIDs, variantID) {
			return ex, true
		}
	}
	return Exchange{}, false
}

// Exchange ищет обмен окна по ID.
func (oc OrderCycle) Exchange(id string) (Exchange, bool) {
	for _, ex := range oc.Exchanges {
		if ex.ID == id {
			return ex, true
		}
	}
	return Exchange{}, false
}

// Exchange — входящий (поставщик → координатор) или исходящий (координатор → хаб) обмен.
type Exchange struct {
	ID               string
	SenderID         string
	ReceiverID       string
	Incoming         bool
	EnterpriseFeeIDs []string
	VariantIDs       []string
}

// Carries проверяет, что вариант торгуется через обмен.
func (ex Exchange) Carries(variantID string) bool { return contains(ex.VariantIDs, variantID) }

// Role возвращает роль владельца сборов обмена.
func (ex Exchange) Role() FeeRole {
	if ex.Incoming {
		return RoleSupplier
	}
	return RoleDistributor
}

// CalculatorType — стратегия вычисления суммы сбора.
type CalculatorType string

const (
	// фиксированная сумма на заказ
	CalculatorFlatRate CalculatorType = "flat_rate"
	// процент от суммы заказа
	CalculatorFlatPercentItemTotal CalculatorType = "flat_percent_item_total"
	// фиксированная сумма за единицу товара
	CalculatorPerItem CalculatorType = "per_item"
	// CalculatorFlatPercentPerItem — процент от цены единицы, округляется до умножения.
	CalculatorFlatPercentPerItem CalculatorType = "flat_percent_per_item"
)

// PerItem сообщает, что калькулятор считает по позициям, а не по заказу.
func (t CalculatorType) PerItem() bool {
	return t == CalculatorPerItem || t == CalculatorFlatPercentPerItem
}

// Calculator — параметры стратегии; Percent задаётся в процентах (20 = 20%).
type Calculator struct {
	Type        CalculatorType
	AmountMinor int64
	Percent     decimal.Decimal
}

// EnterpriseFee описывает настраиваемый сбор предприятия.
type EnterpriseFee struct {
	ID                  string
	EnterpriseID        string
	Name                string
	FeeType             string
	Calculator          Calculator
	TaxCategoryID       string
	InheritsTaxCategory bool
}

// ShippingMethod описывает способ доставки хаба.
type ShippingMethod struct {
	ID              string
	Name            string
	RequiresAddress bool
	Calculator      Calculator
	TaxCategoryID   string
}

// PaymentMethod описывает способ оплаты хаба.
type PaymentMethod struct {
	ID            string
	Name          string
	Provider      string
	Calculator    Calculator
	TaxCategoryID string
}

// VoucherKind — стратегия скидки.
type VoucherKind string

const (
	VoucherFlat       VoucherKind = "flat"
	VoucherPercentage VoucherKind = "percentage"
)

// Voucher — код скидки предприятия; код уникален в пределах предприятия и чувствителен к регистру.
type Voucher struct {
	ID           string
	EnterpriseID string
	Code         string
	Kind         VoucherKind
	AmountMinor  int64
	Percent      decimal.Decimal
	Active       bool
	ExpiresAt    *time.Time
}

// UsableAt сообщает, что ваучер активен и не просрочен.
func (v Voucher) UsableAt(now time.Time) bool {
	if !v.Active {
		return false
	}
	return v.ExpiresAt == nil || now.Before(*v.ExpiresAt)
}

// Customer описывает зарегистрированного покупателя.
type Customer struct {
	ID          string
	Email       string
	BillAddress *Address
	ShipAddress *Address
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
