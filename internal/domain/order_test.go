package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// helper для создания привязанного заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:           "order-1",
		CustomerID:   "customer-1",
		Email:        "buyer@example.com",
		Currency:     "AUD",
		HubID:        "hub-1",
		OrderCycleID: "oc-1",
		State:        domain.StateCart,
		LineItems: []domain.LineItem{
			{ID: "li-1", VariantID: "v-1", Quantity: 2, PriceMinor: 350, CreatedAt: now},
		},
		Payments: []domain.Payment{
			{ID: "p-1", State: domain.PaymentStateCompleted},
			{ID: "p-2", State: domain.PaymentStateCheckout},
		},
		BillAddress: &domain.Address{FirstName: "Jo"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCheckoutSequenceOrder(t *testing.T) {
	seq := domain.CheckoutSequence()
	want := []domain.CheckoutState{
		domain.StateCart, domain.StateAddress, domain.StateDelivery,
		domain.StatePayment, domain.StateConfirmation, domain.StateComplete,
	}
	if len(seq) != len(want) {
		t.Fatalf("expected %d states, got %d", len(want), len(seq))
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("state %d: expected %s, got %s", i, want[i], seq[i])
		}
		if seq[i].Index() != i {
			t.Fatalf("index of %s: expected %d, got %d", seq[i], i, seq[i].Index())
		}
	}

	if domain.StateCanceled.Index() != -1 {
		t.Fatal("canceled must be outside of the sequence")
	}
	if !domain.StateCanceled.Valid() || domain.CheckoutState("resumed").Valid() {
		t.Fatal("unexpected validity result")
	}
	if domain.StatePayment.Next() != domain.StateConfirmation {
		t.Fatal("payment must be followed by confirmation")
	}
	if domain.StateComplete.Next() != "" || domain.StateCanceled.Next() != "" {
		t.Fatal("final states have no next state")
	}
}

func TestAddressValidate(t *testing.T) {
	var missing *domain.Address
	if fields := missing.Validate(); fields["address"] == "" {
		t.Fatal("nil address must be reported")
	}

	addr := &domain.Address{
		FirstName: "Jo", LastName: "Bloggs", Line1: "1 Farm Rd",
		City: "Hobart", Zip: "7000", Country: "AU", Phone: "0400000000",
	}
	if fields := addr.Validate(); len(fields) != 0 {
		t.Fatalf("expected valid address, got %v", fields)
	}

	addr.City = "  "
	if fields := addr.Validate(); fields["city"] == "" || len(fields) != 1 {
		t.Fatalf("expected city error only, got %v", fields)
	}
}

func TestOrderInvalidatePaymentsKeepsSettled(t *testing.T) {
	order := makeOrder()

	n := order.InvalidatePayments(time.Now())
	if n != 1 {
		t.Fatalf("expected 1 invalidated payment, got %d", n)
	}
	if order.Payments[0].State != domain.PaymentStateCompleted {
		t.Fatal("completed payment must not change")
	}
	if order.Payments[1].State != domain.PaymentStateInvalid {
		t.Fatalf("expected invalid, got %s", order.Payments[1].State)
	}
	if order.PendingPayment() != -1 {
		t.Fatal("no pending payment expected after invalidation")
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	order := makeOrder()
	clone := order.Clone()

	clone.LineItems[0].Quantity = 99
	clone.BillAddress.FirstName = "Changed"

	if order.LineItems[0].Quantity != 2 {
		t.Fatal("line items must not be shared")
	}
	if order.BillAddress.FirstName != "Jo" {
		t.Fatal("addresses must not be shared")
	}
}

func TestAdjustmentKeyIdentifiesTarget(t *testing.T) {
	fee := domain.Adjustment{
		Originator: domain.Originator{Kind: domain.OriginatorEnterpriseFee, ID: "fee-1", ExchangeID: "ex-1"},
		Adjustable: domain.Adjustable{Kind: domain.AdjustableLineItem, ID: "li-1"},
	}
	other := fee
	other.Adjustable.ID = "li-2"

	if fee.Key() == other.Key() {
		t.Fatal("different targets must produce different keys")
	}
	if !fee.IsFee() {
		t.Fatal("enterprise fee must be a fee")
	}

	tax := domain.Adjustment{Originator: domain.Originator{Kind: domain.OriginatorTaxRate}}
	if tax.IsFee() || !tax.Originator.Kind.IsTax() {
		t.Fatal("tax rate is not a fee")
	}
}

func TestStockRecordUnlimited(t *testing.T) {
	tests := []struct {
		name   string
		record domain.StockRecord
		want   bool
	}{
		{name: "catalog finite", record: domain.StockRecord{VariantID: "v", CountOnHand: 5}, want: false},
		{name: "catalog on demand", record: domain.StockRecord{VariantID: "v", OnDemand: true}, want: true},
		{name: "override backorder", record: domain.StockRecord{VariantID: "v", HubID: "h", CountOnHand: -1}, want: true},
		{name: "override capped", record: domain.StockRecord{VariantID: "v", HubID: "h", CountOnHand: 0}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.Unlimited(); got != tt.want {
				t.Fatalf("Unlimited() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDropLineItemRemovesDependentAdjustments(t *testing.T) {
	order := makeOrder()
	order.LineItems = append(order.LineItems, domain.LineItem{ID: "li-2", VariantID: "v-2", Quantity: 1, PriceMinor: 100})
	order.Adjustments = []domain.Adjustment{
		{ID: "fee-1", Adjustable: domain.Adjustable{Kind: domain.AdjustableLineItem, ID: "li-1"}, Originator: domain.Originator{Kind: domain.OriginatorEnterpriseFee, ID: "f"}},
		{ID: "tax-1", Adjustable: domain.Adjustable{Kind: domain.AdjustableAdjustment, ID: "fee-1"}, Originator: domain.Originator{Kind: domain.OriginatorTaxRate, ID: "r"}},
		{ID: "fee-2", Adjustable: domain.Adjustable{Kind: domain.AdjustableLineItem, ID: "li-2"}, Originator: domain.Originator{Kind: domain.OriginatorEnterpriseFee, ID: "f"}},
		{ID: "ship", Adjustable: domain.Adjustable{Kind: domain.AdjustableOrder, ID: "order-1"}, Originator: domain.Originator{Kind: domain.OriginatorShippingMethod, ID: "s"}},
	}

	if !order.DropLineItem("li-1") {
		t.Fatal("expected line item to be dropped")
	}
	if len(order.LineItems) != 1 || order.LineItems[0].ID != "li-2" {
		t.Fatalf("unexpected line items: %+v", order.LineItems)
	}
	if len(order.Adjustments) != 2 || order.Adjustments[0].ID != "fee-2" || order.Adjustments[1].ID != "ship" {
		t.Fatalf("unexpected adjustments: %+v", order.Adjustments)
	}
	if order.DropLineItem("li-1") {
		t.Fatal("second drop must report missing line item")
	}
}
