package adjustments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

func TestCompute(t *testing.T) {
	items := []domain.LineItem{
		{ID: "li-1", Quantity: 8, PriceMinor: 86},
		{ID: "li-2", Quantity: 1, PriceMinor: 1000},
	}

	tests := []struct {
		name string
		calc domain.Calculator
		want int64
	}{
		{"flat rate", domain.Calculator{Type: domain.CalculatorFlatRate, AmountMinor: 250}, 250},
		// 16.88 * 10% = 1.688 -> 1.68.
		{"percent of item total truncates", domain.Calculator{Type: domain.CalculatorFlatPercentItemTotal, Percent: decimal.NewFromInt(10)}, 168},
		{"per item", domain.Calculator{Type: domain.CalculatorPerItem, AmountMinor: 5}, 45},
		// 86 * 20% = 17.2 -> 17 за единицу, 17 * 8 = 136; 1000 * 20% = 200.
		{"percent per item rounds per unit", domain.Calculator{Type: domain.CalculatorFlatPercentPerItem, Percent: decimal.NewFromInt(20)}, 336},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.calc, items)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_RoundingBeforeQuantity(t *testing.T) {
	items := []domain.LineItem{{ID: "li-1", Quantity: 8, PriceMinor: 86}}
	calc := domain.Calculator{Type: domain.CalculatorFlatPercentPerItem, Percent: decimal.NewFromInt(20)}

	fee, err := Compute(calc, items)
	require.NoError(t, err)
	require.EqualValues(t, 136, fee)
	// (0.86 + 0.17) * 8 = 8.24, а не 8.256 и не 8.25.
	require.EqualValues(t, 824, items[0].AmountMinor()+fee)
}

func TestCompute_TruncatesRemainder(t *testing.T) {
	calc := domain.Calculator{Type: domain.CalculatorFlatPercentPerItem, Percent: decimal.NewFromInt(20)}

	// 0.88 * 20% = 0.176: дробь отбрасывается, а не округляется до 0.18.
	fee, err := Compute(calc, []domain.LineItem{{ID: "li-1", Quantity: 1, PriceMinor: 88}})
	require.NoError(t, err)
	require.EqualValues(t, 17, fee)

	fee, err = Compute(calc, []domain.LineItem{{ID: "li-1", Quantity: 3, PriceMinor: 88}})
	require.NoError(t, err)
	require.EqualValues(t, 51, fee, "per unit first, then quantity")
}

func TestCompute_UnknownCalculator(t *testing.T) {
	_, err := Compute(domain.Calculator{Type: "weight"}, nil)
	require.ErrorIs(t, err, domain.ErrUnknownCalculator)
}

func TestTaxOn(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		rate   domain.TaxRate
		want   int64
	}{
		{"inclusive 10% of 110.00", 11000, domain.TaxRate{Amount: decimal.RequireFromString("0.1"), IncludedInPrice: true}, 1000},
		{"inclusive 10% of 11.00", 1100, domain.TaxRate{Amount: decimal.RequireFromString("0.1"), IncludedInPrice: true}, 100},
		{"additive 21% truncates the remainder", 250, domain.TaxRate{Amount: decimal.RequireFromString("0.21")}, 52},
		// 10.00 - 10.00/1.09 = 0.8256... -> 0.82.
		{"inclusive 9% truncates the remainder", 1000, domain.TaxRate{Amount: decimal.RequireFromString("0.09"), IncludedInPrice: true}, 82},
		{"additive on negative amount", -1000, domain.TaxRate{Amount: decimal.RequireFromString("0.09")}, -90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, TaxOn(tt.amount, tt.rate))
		})
	}
}
