package adjustments

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// roundMinor приводит сумму к минорной единице валюты отбрасыванием дробной
// части (к нулю). Остаток дальше не переносится.
func roundMinor(d decimal.Decimal) int64 {
	return d.Truncate(0).IntPart()
}

// percentOf возвращает pct% от amount, округлённые до минорной единицы.
func percentOf(amount int64, pct decimal.Decimal) int64 {
	return roundMinor(decimal.NewFromInt(amount).Mul(pct).Div(hundred))
}

// Compute считает сумму калькулятора по набору позиций.
// Для сбора на заказ items — все позиции, для сбора на позицию — одна.
// flat_percent_per_item округляет цену единицы до умножения на количество.
func Compute(calc domain.Calculator, items []domain.LineItem) (int64, error) {
	switch calc.Type {
	case domain.CalculatorFlatRate:
		return calc.AmountMinor, nil
	case domain.CalculatorFlatPercentItemTotal:
		return percentOf(subtotal(items), calc.Percent), nil
	case domain.CalculatorPerItem:
		var qty int64
		for _, li := range items {
			qty += int64(li.Quantity)
		}
		return calc.AmountMinor * qty, nil
	case domain.CalculatorFlatPercentPerItem:
		var total int64
		for _, li := range items {
			total += percentOf(li.PriceMinor, calc.Percent) * int64(li.Quantity)
		}
		return total, nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownCalculator, calc.Type)
	}
}

// TaxOn возвращает налог ставки на сумму amount. Для включённого налога
// выделяется доля, уже содержащаяся в сумме: amount - amount/(1+rate).
func TaxOn(amount int64, rate domain.TaxRate) int64 {
	base := decimal.NewFromInt(amount)
	if rate.IncludedInPrice {
		net := base.Div(one.Add(rate.Amount))
		return roundMinor(base.Sub(net))
	}
	return roundMinor(base.Mul(rate.Amount))
}

func subtotal(items []domain.LineItem) int64 {
	var total int64
	for _, li := range items {
		total += li.AmountMinor()
	}
	return total
}
