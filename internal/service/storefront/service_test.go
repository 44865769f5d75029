package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"
	"github.com/vladislavdragonenkov/hubcart/internal/service/audit"
	"github.com/vladislavdragonenkov/hubcart/internal/service/binder"
	"github.com/vladislavdragonenkov/hubcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/hubcart/internal/service/guard"
	"github.com/vladislavdragonenkov/hubcart/internal/service/payment"
	"github.com/vladislavdragonenkov/hubcart/internal/service/stock"
	"github.com/vladislavdragonenkov/hubcart/internal/service/voucher"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/memory"
)

var validAddress = &domain.Address{
	FirstName: "Jane", LastName: "Doe", Line1: "2 Canal St", City: "Utrecht",
	Zip: "3512", Country: "NL", Phone: "+31111111",
}

type StorefrontSuite struct {
	suite.Suite

	now      time.Time
	catalog  *memory.CatalogRepository
	orders   domain.OrderRepository
	stock    domain.StockRepository
	timeline domain.TimelineRepository
	gateway  *payment.MockGateway
	svc      *Service
}

func TestStorefrontSuite(t *testing.T) {
	suite.Run(t, new(StorefrontSuite))
}

func (s *StorefrontSuite) hub(allowChanges bool) domain.Enterprise {
	return domain.Enterprise{
		ID: "hub", IsHub: true, Active: true, AllowOrderChanges: allowChanges,
		ShippingMethodIDs: []string{"ship-pickup"},
		PaymentMethodIDs:  []string{"pay-card"},
	}
}

func (s *StorefrontSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	var (
		mu  sync.Mutex
		ids int
	)
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	s.catalog = memory.NewCatalogRepository()
	s.catalog.PutEnterprise(s.hub(false))
	s.catalog.PutEnterprise(domain.Enterprise{ID: "other-hub", IsHub: true, Active: true})
	window := func(id, hubID string) domain.OrderCycle {
		return domain.OrderCycle{
			ID: id, CoordinatorID: hubID,
			OpensAt: s.now.Add(-24 * time.Hour), ClosesAt: s.now.Add(24 * time.Hour),
			Exchanges: []domain.Exchange{
				{ID: id + "-out", SenderID: hubID, ReceiverID: hubID, VariantIDs: []string{"v-apple", "v-egg"}},
			},
		}
	}
	s.catalog.PutOrderCycle(window("oc", "hub"))
	s.catalog.PutOrderCycle(window("oc-other", "other-hub"))
	s.catalog.PutVariant(domain.Variant{ID: "v-apple", Name: "Apples", PriceMinor: 1000})
	s.catalog.PutVariant(domain.Variant{ID: "v-egg", Name: "Eggs", PriceMinor: 400})
	s.catalog.PutVariant(domain.Variant{ID: "v-pear", Name: "Pears", PriceMinor: 700})
	s.catalog.PutShippingMethod(domain.ShippingMethod{ID: "ship-pickup", Name: "Pickup",
		Calculator: domain.Calculator{Type: domain.CalculatorFlatRate}})
	s.catalog.PutPaymentMethod(domain.PaymentMethod{ID: "pay-card", Name: "Card",
		Calculator: domain.Calculator{Type: domain.CalculatorFlatRate}})
	s.catalog.PutVoucher(domain.Voucher{ID: "v-free", EnterpriseID: "hub", Code: "FREE",
		Kind: domain.VoucherFlat, AmountMinor: 1_000_000, Active: true})
	s.catalog.PutVoucher(domain.Voucher{ID: "v-five", EnterpriseID: "hub", Code: "FIVEOFF",
		Kind: domain.VoucherFlat, AmountMinor: 500, Active: true})
	s.catalog.PutCustomer(domain.Customer{ID: "cust-1", Email: "jane@example.com", BillAddress: validAddress})

	s.stock = memory.NewStockRepository()
	s.Require().NoError(s.stock.Put(domain.StockRecord{VariantID: "v-apple", CountOnHand: 5}))
	eggPrice := int64(350)
	s.Require().NoError(s.stock.Put(domain.StockRecord{VariantID: "v-egg", CountOnHand: 100}))
	s.Require().NoError(s.stock.Put(domain.StockRecord{VariantID: "v-egg", HubID: "hub", CountOnHand: -1, PriceMinor: &eggPrice}))

	s.orders = memory.NewOrderRepository()
	s.timeline = memory.NewTimelineRepository()
	s.gateway = payment.NewMockGateway()

	g := guard.New(s.orders, memory.NewLocker(), nil, guard.WithBackoff(3, 0), guard.WithClock(clock))
	b := binder.New(s.catalog, nil).WithClock(clock)
	ledger := stock.NewLedger(s.stock, nil)
	recorder := audit.NewRecorder(nil, s.timeline, nil, nil).WithClock(clock)
	pipeline := adjustments.New(s.catalog, nil,
		adjustments.WithClock(clock), adjustments.WithIDGenerator(newID), adjustments.WithAnomalyReporter(recorder))

	machine := checkout.New(checkout.Deps{
		Catalog: s.catalog, Orders: s.orders, Guard: g, Binder: b, Ledger: ledger,
		Pipeline: pipeline, Gateway: s.gateway, Recorder: recorder, Now: clock, NewID: newID,
	})
	s.svc = New(Deps{
		Catalog:  s.catalog,
		Orders:   s.orders,
		Guard:    g,
		Binder:   b,
		Ledger:   ledger,
		Pipeline: pipeline,
		Vouchers: voucher.New(s.catalog, pipeline, nil).WithClock(clock),
		Machine:  machine,
		Recorder: recorder,
		Now:      clock,
		NewID:    newID,
	})
}

func (s *StorefrontSuite) newCart(lines ...LineRequest) domain.Order {
	order, err := s.svc.NewOrder(context.Background(), NewOrderRequest{CustomerID: "cust-1", HubID: "hub"})
	s.Require().NoError(err)
	if len(lines) > 0 {
		res, err := s.svc.Populate(context.Background(), order.ID, lines)
		s.Require().NoError(err)
		order = res.Order
	}
	return order
}

func (s *StorefrontSuite) walkTo(orderID string, target domain.CheckoutState) domain.Order {
	steps := []checkout.Submission{
		{Target: domain.StateAddress},
		{Target: domain.StateDelivery, BillAddress: validAddress},
		{Target: domain.StatePayment, ShippingMethodID: "ship-pickup"},
		{Target: domain.StateConfirmation, PaymentMethodID: "pay-card"},
		{Target: domain.StateComplete},
	}
	var order domain.Order
	for _, step := range steps {
		var err error
		order, _, err = s.svc.Checkout(context.Background(), orderID, step)
		s.Require().NoError(err, "enter %s", step.Target)
		if step.Target == target {
			break
		}
	}
	return order
}

func (s *StorefrontSuite) onHand(variantID, hubID string) int {
	rec, err := s.stock.Get(variantID, hubID)
	s.Require().NoError(err)
	return rec.CountOnHand
}

func (s *StorefrontSuite) eventTypes(orderID string) []string {
	events, err := s.svc.Timeline(context.Background(), orderID)
	s.Require().NoError(err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func (s *StorefrontSuite) TestNewOrderBindsSingleWindowAndCustomer() {
	order := s.newCart()
	s.Equal("hub", order.HubID)
	s.Equal("oc", order.OrderCycleID)
	s.Equal("cust-1", order.CustomerID)
	s.Equal("jane@example.com", order.Email)
	s.Equal(domain.StateCart, order.State)
}

func (s *StorefrontSuite) TestNewOrderUnknownCustomer() {
	_, err := s.svc.NewOrder(context.Background(), NewOrderRequest{CustomerID: "ghost"})
	s.ErrorIs(err, domain.ErrCustomerNotFound)
}

func (s *StorefrontSuite) TestPopulateUsesHubPriceAndReportsUnlimitedStock() {
	order := s.newCart()
	res, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{
		{VariantID: "v-egg", Quantity: 12, MaxQuantity: 20},
		{VariantID: "v-apple", Quantity: 2},
	})
	s.Require().NoError(err)

	s.Len(res.Order.LineItems, 2)
	egg := res.Order.LineItems[res.Order.LineItemByVariant("v-egg")]
	s.Equal(int64(350), egg.PriceMinor)
	s.Equal(20, egg.MaxQuantity)
	s.Equal(StockLevel{Quantity: 12, MaxQuantity: 20, OnHand: stock.UnlimitedSentinel}, res.Stock["v-egg"])
	s.Equal(StockLevel{Quantity: 2, OnHand: 5}, res.Stock["v-apple"])
	s.Equal(int64(12*350+2*1000), res.Order.Totals.Total)
}

func (s *StorefrontSuite) TestPopulateAboveStockKeepsPersistedQuantity() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2, MaxQuantity: 3})
	res, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{
		{VariantID: "v-apple", Quantity: 8, MaxQuantity: 10},
		{VariantID: "v-egg", Quantity: 1},
	})

	se, ok := AsStockError(err)
	s.Require().True(ok, "expected StockError, got %v", err)
	s.Equal([]domain.StockShortage{{VariantID: "v-apple", Requested: 8, Available: 5}}, se.Lines)
	s.Equal(StockLevel{Quantity: 2, MaxQuantity: 3, OnHand: 5}, res.Stock["v-apple"])

	stored, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.LineItems, 2)
	apple := stored.LineItems[stored.LineItemByVariant("v-apple")]
	s.Equal(2, apple.Quantity)
	s.Equal(3, apple.MaxQuantity)
	s.Equal(1, stored.LineItems[stored.LineItemByVariant("v-egg")].Quantity)
	s.Equal(5, s.onHand("v-apple", ""), "cart edits must not reserve stock")
}

func (s *StorefrontSuite) TestPopulateAboveStockNeverAddsNewLine() {
	order := s.newCart()
	res, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 6}})

	_, ok := AsStockError(err)
	s.Require().True(ok, "expected StockError, got %v", err)
	s.Equal(StockLevel{Quantity: 0, OnHand: 5}, res.Stock["v-apple"])

	stored, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	s.Empty(stored.LineItems)
}

func (s *StorefrontSuite) TestPopulateZeroRemovesLine() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2}, LineRequest{VariantID: "v-egg", Quantity: 1})
	res, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 0}})
	s.Require().NoError(err)
	s.Len(res.Order.LineItems, 1)
	s.Equal(-1, res.Order.LineItemByVariant("v-apple"))
}

func (s *StorefrontSuite) TestPopulateRejections() {
	order := s.newCart()
	ctx := context.Background()

	_, err := s.svc.Populate(ctx, order.ID, []LineRequest{{VariantID: "v-pear", Quantity: 1}})
	s.ErrorIs(err, domain.ErrVariantUnavailable)

	_, err = s.svc.Populate(ctx, order.ID, []LineRequest{{VariantID: "v-apple", Quantity: -1}})
	s.ErrorIs(err, domain.ErrLineItemQtyInvalid)

	unbound, err := s.svc.NewOrder(ctx, NewOrderRequest{})
	s.Require().NoError(err)
	_, err = s.svc.Populate(ctx, unbound.ID, []LineRequest{{VariantID: "v-apple", Quantity: 1}})
	s.ErrorIs(err, domain.ErrOrderNotBound)

	stored, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	s.Empty(stored.LineItems)
}

func (s *StorefrontSuite) TestPopulateClosedWindow() {
	order := s.newCart()
	s.now = s.now.Add(48 * time.Hour)
	_, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 1}})
	s.ErrorIs(err, domain.ErrWindowClosed)
}

func (s *StorefrontSuite) TestCartEditDuringCheckoutRestartsCheckout() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	s.walkTo(order.ID, domain.StateConfirmation)

	res, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 3}})
	s.Require().NoError(err)
	s.Equal(domain.StateCart, res.Order.State)
	for _, p := range res.Order.Payments {
		s.Equal(domain.PaymentStateInvalid, p.State)
	}
	s.Contains(s.eventTypes(order.ID), domain.EventStateChanged)
}

func (s *StorefrontSuite) TestCompletedOrderIsFrozenWithoutChangesAllowed() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	s.walkTo(order.ID, domain.StateComplete)

	_, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 3}})
	s.ErrorIs(err, domain.ErrOrderCompleted)
	_, err = s.svc.RemoveLineItem(context.Background(), order.ID, order.LineItems[0].ID)
	s.ErrorIs(err, domain.ErrOrderCompleted)
}

func (s *StorefrontSuite) TestCompletedOrderChangesShiftReservations() {
	s.catalog.PutEnterprise(s.hub(true))
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	done := s.walkTo(order.ID, domain.StateComplete)
	s.Equal(3, s.onHand("v-apple", ""))

	res, err := s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 4}})
	s.Require().NoError(err)
	s.Equal(domain.StateComplete, res.Order.State)
	s.Equal(1, s.onHand("v-apple", ""))
	s.Equal(1, res.Stock["v-apple"].OnHand)

	// Всего доступно 1 сверх уже зарезервированных 4.
	_, err = s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 9}})
	se, ok := AsStockError(err)
	s.Require().True(ok)
	s.Equal(5, se.Lines[0].Available)
	s.Equal(1, s.onHand("v-apple", ""), "rejected quantity must not shift reservations")
	stored, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	s.Equal(4, stored.LineItems[0].Quantity)

	_, err = s.svc.RemoveLineItem(context.Background(), order.ID, done.LineItems[0].ID)
	s.Require().NoError(err)
	s.Equal(5, s.onHand("v-apple", ""))
	s.Contains(s.eventTypes(order.ID), domain.EventStockReleased)
}

func (s *StorefrontSuite) TestRemoveLineItem() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	_, err := s.svc.RemoveLineItem(context.Background(), order.ID, "missing")
	s.ErrorIs(err, domain.ErrLineItemNotFound)

	updated, err := s.svc.RemoveLineItem(context.Background(), order.ID, order.LineItems[0].ID)
	s.Require().NoError(err)
	s.True(updated.IsEmpty())
	s.Zero(updated.Totals.Total)
}

func (s *StorefrontSuite) TestConcurrentDeletionOfLastLineItem() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 1})
	lineID := order.LineItems[0].ID

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.RemoveLineItem(context.Background(), order.ID, lineID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, notFound := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrLineItemNotFound):
			notFound++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, notFound)

	_, _, err := s.svc.Checkout(context.Background(), order.ID, checkout.Submission{Target: domain.StateAddress})
	var ge *domain.GuardError
	s.Require().ErrorAs(err, &ge)
	s.Equal(domain.StateCart, ge.Redirect)
}

func (s *StorefrontSuite) TestEmptyCartAbandonsCheckout() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	s.walkTo(order.ID, domain.StateConfirmation)

	emptied, err := s.svc.EmptyCart(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Equal(domain.StateCart, emptied.State)
	s.Empty(emptied.OrderCycleID)
	s.True(emptied.IsEmpty())
	s.Empty(emptied.Adjustments)
	s.Equal(-1, emptied.PendingPayment())
	s.Contains(s.eventTypes(order.ID), domain.EventCartEmptied)
}

func (s *StorefrontSuite) TestBindToAnotherHubEmptiesCart() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	res, err := s.svc.Bind(context.Background(), order.ID, "other-hub", "")
	s.Require().NoError(err)
	s.True(res.HubSwitched)
	s.True(res.Emptied)
	s.True(res.AutoSelected)
	s.Equal("oc-other", res.Order.OrderCycleID)
	s.True(res.Order.IsEmpty())

	types := s.eventTypes(order.ID)
	s.Contains(types, domain.EventHubSwitched)
	s.Contains(types, domain.EventCartEmptied)

	_, err = s.svc.Bind(context.Background(), order.ID, "nowhere", "")
	s.ErrorIs(err, domain.ErrNoSuchHub)
}

func (s *StorefrontSuite) TestAssociateCustomerKeepsExisting() {
	order, err := s.svc.NewOrder(context.Background(), NewOrderRequest{Email: "own@example.com", HubID: "hub"})
	s.Require().NoError(err)

	updated, err := s.svc.AssociateCustomer(context.Background(), order.ID, "cust-1")
	s.Require().NoError(err)
	s.Equal("cust-1", updated.CustomerID)
	s.Equal("own@example.com", updated.Email)
}

func (s *StorefrontSuite) TestGetRecomputesWithoutPersisting() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})

	before, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	view, res, err := s.svc.Get(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Equal(int64(2000), res.Totals.Total)
	s.Equal(before.Version, view.Version)

	after, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	s.Equal(before.Version, after.Version)
}

func (s *StorefrontSuite) TestZeroTotalVoucherFlow() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	s.walkTo(order.ID, domain.StateConfirmation)

	withVoucher, out, err := s.svc.ApplyVoucher(context.Background(), order.ID, "FREE")
	s.Require().NoError(err)
	s.Equal(1, out.Invalidated)
	s.Zero(withVoucher.Totals.Total)

	done, outcome, err := s.svc.Checkout(context.Background(), order.ID, checkout.Submission{Target: domain.StateComplete})
	s.Require().NoError(err)
	s.True(outcome.PaymentSkipped)
	s.Equal(domain.StateComplete, done.State)
	s.Zero(s.gateway.CallCount())
	for _, p := range done.Payments {
		s.NotEqual(domain.PaymentStateCompleted, p.State)
	}
	s.Contains(s.eventTypes(order.ID), domain.EventVoucherApplied)
}

func (s *StorefrontSuite) TestRemoveVoucherInvalidatesPayments() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	_, applied, err := s.svc.ApplyVoucher(context.Background(), order.ID, "FIVEOFF")
	s.Require().NoError(err)
	confirmed := s.walkTo(order.ID, domain.StateConfirmation)
	pending := confirmed.PendingPayment()
	s.Require().GreaterOrEqual(pending, 0)
	s.Equal(int64(1500), confirmed.Payments[pending].AmountMinor)

	removed, out, err := s.svc.RemoveVoucher(context.Background(), order.ID, applied.Adjustment.ID)
	s.Require().NoError(err)
	s.Equal(1, out.Invalidated)
	s.Equal(int64(2000), removed.Totals.Total)
	s.Equal(-1, removed.PendingPayment())
	s.Equal(applied.Adjustment.ID, out.Adjustment.ID)
	s.Contains(s.eventTypes(order.ID), domain.EventVoucherRemoved)
}

func (s *StorefrontSuite) TestCancel() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	canceled, err := s.svc.Cancel(context.Background(), order.ID, "")
	s.Require().NoError(err)
	s.Equal(domain.StateCanceled, canceled.State)

	_, err = s.svc.Populate(context.Background(), order.ID, []LineRequest{{VariantID: "v-apple", Quantity: 1}})
	s.ErrorIs(err, domain.ErrOrderCanceled)
	_, err = s.svc.EmptyCart(context.Background(), order.ID)
	s.ErrorIs(err, domain.ErrOrderCanceled)
}

func (s *StorefrontSuite) TestTimelineUnknownOrder() {
	_, err := s.svc.Timeline(context.Background(), "ghost")
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *StorefrontSuite) TestHandleVoucherEvents() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	ctx := context.Background()

	applied := kafka.NewVoucherEvent(kafka.EventTypeVoucherApplied, order.ID, "FREE", "")
	s.Require().NoError(s.svc.HandleVoucherEvent(ctx, applied))
	stored, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	current, ok := voucher.Current(stored)
	s.Require().True(ok)
	s.Equal("v-free", current.Originator.ID)

	// Ваучер, который не применён к заказу, отзывать нечего.
	other := kafka.NewVoucherEvent(kafka.EventTypeVoucherRevoked, order.ID, "", "v-other")
	s.Require().NoError(s.svc.HandleVoucherEvent(ctx, other))

	revoked := kafka.NewVoucherEvent(kafka.EventTypeVoucherRevoked, order.ID, "", "v-free")
	s.Require().NoError(s.svc.HandleVoucherEvent(ctx, revoked))
	stored, err = s.orders.Get(order.ID)
	s.Require().NoError(err)
	_, ok = voucher.Current(stored)
	s.False(ok)
	s.Equal(int64(2000), stored.Totals.Total)
}

func (s *StorefrontSuite) TestHandleVoucherEventRejections() {
	order := s.newCart(LineRequest{VariantID: "v-apple", Quantity: 2})
	ctx := context.Background()

	unknownCode := kafka.NewVoucherEvent(kafka.EventTypeVoucherApplied, order.ID, "NOPE", "")
	s.NoError(s.svc.HandleVoucherEvent(ctx, unknownCode), "business rejection is acknowledged")

	missingOrder := kafka.NewVoucherEvent(kafka.EventTypeVoucherApplied, "ghost", "FREE", "")
	s.NoError(s.svc.HandleVoucherEvent(ctx, missingOrder))

	incomplete := &kafka.VoucherEvent{EventType: kafka.EventTypeVoucherApplied}
	s.ErrorIs(s.svc.HandleVoucherEvent(ctx, incomplete), kafka.ErrInvalidVoucherEvent)
}
