package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

func sampleOrder(id, customerID, email string, at time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		CustomerID:   customerID,
		Email:        email,
		Currency:     "EUR",
		HubID:        "hub-1",
		OrderCycleID: "oc-1",
		State:        domain.StateCart,
		LineItems: []domain.LineItem{
			{ID: id + "-li-1", VariantID: "v-apples", Quantity: 2, PriceMinor: 500, TaxCategoryID: "food", SupplierID: "farm-1", CreatedAt: at},
			{ID: id + "-li-2", VariantID: "v-eggs", Quantity: 1, MaxQuantity: 3, PriceMinor: 1000, SupplierID: "farm-2", CreatedAt: at},
		},
		Totals:    domain.OrderTotals{ItemTotal: 2000, Total: 2000},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestOrderRepository_PostgresRoundTrip(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder("order-1", "customer-1", "buyer@example.com", now)
	require.NoError(t, repo.Create(order))

	got, err := repo.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, order, got)

	completed := now.Add(time.Minute)
	got.State = domain.StateComplete
	got.CompletedAt = &completed
	got.ShippingMethodID = "pickup"
	got.PaymentMethodID = "cash"
	got.BillAddress = &domain.Address{FirstName: "Ann", LastName: "Lee", Line1: "1 Main St", City: "Town", Zip: "1000", Country: "AU", Phone: "555"}
	got.ShipAddress = got.BillAddress.Clone()
	got.LineItems = got.LineItems[:1]
	got.Adjustments = []domain.Adjustment{{
		ID:          "adj-1",
		OrderID:     order.ID,
		Adjustable:  domain.Adjustable{Kind: domain.AdjustableLineItem, ID: got.LineItems[0].ID},
		Originator:  domain.Originator{Kind: domain.OriginatorEnterpriseFee, ID: "fee-1", ExchangeID: "ex-1"},
		Label:       "Packing fee",
		AmountMinor: 150,
		State:       domain.AdjustmentClosed,
		Role:        domain.RoleSupplier,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	got.Payments = []domain.Payment{{
		ID: "pay-1", OrderID: order.ID, PaymentMethodID: "cash", AmountMinor: 1150,
		State: domain.PaymentStateCompleted, CreatedAt: now, UpdatedAt: now,
	}}
	got.Totals = domain.OrderTotals{ItemTotal: 1000, FeeTotal: 150, Total: 1150}
	got.UpdatedAt = completed
	require.NoError(t, repo.Save(got))

	saved, err := repo.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, got.Version+1, saved.Version)
	saved.Version = got.Version
	require.Equal(t, got, saved)

	require.ErrorIs(t, repo.Save(got), domain.ErrOrderVersionConflict, "stale version must be rejected")
}

func TestOrderRepository_PostgresQueries(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	older := sampleOrder("order-old", "customer-1", "buyer@example.com", now.Add(-2*time.Hour))
	older.BillAddress = &domain.Address{FirstName: "Old", City: "Town"}
	newer := sampleOrder("order-new", "customer-1", "buyer@example.com", now.Add(-time.Hour))
	newer.BillAddress = &domain.Address{FirstName: "New", City: "Town"}
	current := sampleOrder("order-current", "customer-1", "buyer@example.com", now)
	for _, o := range []domain.Order{older, newer, current} {
		require.NoError(t, repo.Create(o))
	}

	last, err := repo.LastByEmail("buyer@example.com", current.ID)
	require.NoError(t, err)
	require.Equal(t, newer.ID, last.ID)
	require.Equal(t, "New", last.BillAddress.FirstName)

	_, err = repo.LastByEmail("nobody@example.com", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	listed, err := repo.ListByCustomer("customer-1", 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, current.ID, listed[0].ID)
	require.Len(t, listed[0].LineItems, 2)

	all, err := repo.ListByCustomer("customer-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder("order-dup", "customer-2", "dup@example.com", now)

	_, err := repo.Get("missing-order")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.ErrorIs(t, repo.Save(sampleOrder("missing-order", "c", "e", now)), domain.ErrOrderNotFound)

	require.NoError(t, repo.Create(order))
	require.ErrorIs(t, repo.Create(order), domain.ErrOrderVersionConflict)
}
