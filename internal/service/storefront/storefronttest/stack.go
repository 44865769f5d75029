// Package storefronttest собирает витрину поверх memory-хранилищ для тестов транспортов.
package storefronttest

import (
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"
	"github.com/vladislavdragonenkov/hubcart/internal/service/audit"
	"github.com/vladislavdragonenkov/hubcart/internal/service/binder"
	"github.com/vladislavdragonenkov/hubcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/hubcart/internal/service/guard"
	"github.com/vladislavdragonenkov/hubcart/internal/service/payment"
	"github.com/vladislavdragonenkov/hubcart/internal/service/stock"
	"github.com/vladislavdragonenkov/hubcart/internal/service/storefront"
	"github.com/vladislavdragonenkov/hubcart/internal/service/voucher"
	"github.com/vladislavdragonenkov/hubcart/internal/storage/memory"
)

// Seed — каталог одного хаба: яблоки с остатком 5, яйца под заказ,
// самовывоз, оплата картой, ваучеры FIVEOFF и FREE.
const Seed = `
enterprises:
  - id: farm-1
    name: Green Acres
    active: true
  - id: hub-1
    name: Riverside Hub
    hub: true
    active: true
    shipping_methods: [ship-pickup]
    payment_methods: [pay-card]
variants:
  - id: var-apples
    name: Apples 1kg
    supplier: farm-1
    price_minor: 1000
    on_hand: 5
  - id: var-eggs
    name: Eggs x12
    supplier: farm-1
    price_minor: 450
    on_demand: true
  - id: var-pears
    name: Pears 1kg
    supplier: farm-1
    price_minor: 700
    on_hand: 10
shipping_methods:
  - id: ship-pickup
    name: Pickup
    calculator:
      type: flat_rate
      amount_minor: 0
payment_methods:
  - id: pay-card
    name: Card
    provider: mock
    calculator:
      type: flat_rate
      amount_minor: 0
order_cycles:
  - id: oc-1
    name: Weekly
    coordinator: hub-1
    opens_at: "2020-01-01T00:00:00Z"
    closes_at: "2099-01-01T00:00:00Z"
    exchanges:
      - id: ex-in
        sender: farm-1
        receiver: hub-1
        incoming: true
        variants: [var-apples, var-eggs]
      - id: ex-out
        sender: hub-1
        receiver: hub-1
        variants: [var-apples, var-eggs]
vouchers:
  - id: v-five
    enterprise: hub-1
    code: FIVEOFF
    kind: flat
    amount_minor: 500
    active: true
  - id: v-free
    enterprise: hub-1
    code: FREE
    kind: flat
    amount_minor: 1000000
    active: true
customers:
  - id: cust-1
    email: jane@example.com
    bill_address:
      first_name: Jane
      last_name: Doe
      line1: 2 Canal St
      city: Utrecht
      zip: "3512"
      country: NL
      phone: "+31111111"
`

// Stack — собранная витрина и её хранилища.
type Stack struct {
	Service  *storefront.Service
	Catalog  *memory.CatalogRepository
	Orders   domain.OrderRepository
	Stock    domain.StockRepository
	Timeline domain.TimelineRepository
	Outbox   domain.OutboxRepository
	Gateway  *payment.MockGateway
}

// New собирает витрину и загружает каталог из seed.
func New(t testing.TB, seed string) *Stack {
	t.Helper()

	st := &Stack{
		Catalog:  memory.NewCatalogRepository(),
		Orders:   memory.NewOrderRepository(),
		Stock:    memory.NewStockRepository(),
		Timeline: memory.NewTimelineRepository(),
		Outbox:   memory.NewOutboxRepository(),
		Gateway:  payment.NewMockGateway(),
	}
	if err := memory.LoadSeed([]byte(seed), st.Catalog, st.Stock); err != nil {
		t.Fatalf("load seed: %v", err)
	}

	logger := Logger()
	g := guard.New(st.Orders, memory.NewLocker(), logger, guard.WithBackoff(3, 0))
	b := binder.New(st.Catalog, logger)
	ledger := stock.NewLedger(st.Stock, logger)
	recorder := audit.NewRecorder(st.Outbox, st.Timeline, nil, logger)
	pipeline := adjustments.New(st.Catalog, logger, adjustments.WithAnomalyReporter(recorder))
	machine := checkout.New(checkout.Deps{
		Catalog:  st.Catalog,
		Orders:   st.Orders,
		Guard:    g,
		Binder:   b,
		Ledger:   ledger,
		Pipeline: pipeline,
		Gateway:  st.Gateway,
		Recorder: recorder,
		Logger:   logger,
	})
	st.Service = storefront.New(storefront.Deps{
		Catalog:  st.Catalog,
		Orders:   st.Orders,
		Guard:    g,
		Binder:   b,
		Ledger:   ledger,
		Pipeline: pipeline,
		Vouchers: voucher.New(st.Catalog, pipeline, logger),
		Machine:  machine,
		Recorder: recorder,
		Logger:   logger,
	})
	return st
}

// Logger — тихий логгер для тестов.
func Logger() *log.Entry {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("component", "test")
}

// ValidAddress — адрес, проходящий проверку шага delivery.
func ValidAddress() *domain.Address {
	return &domain.Address{
		FirstName: "Jane", LastName: "Doe", Line1: "2 Canal St", City: "Utrecht",
		Zip: "3512", Country: "NL", Phone: "+31111111",
	}
}
