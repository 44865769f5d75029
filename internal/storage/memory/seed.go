package memory

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// Seed — YAML-описание каталога и остатков для драйвера memory.
type Seed struct {
	Enterprises []struct {
		ID                string          `yaml:"id"`
		Name              string          `yaml:"name"`
		Hub               bool            `yaml:"hub"`
		Active            bool            `yaml:"active"`
		AllowOrderChanges bool            `yaml:"allow_order_changes"`
		DefaultZone       string          `yaml:"default_zone"`
		Address           *domain.Address `yaml:"address"`
		ShippingMethods   []string        `yaml:"shipping_methods"`
		PaymentMethods    []string        `yaml:"payment_methods"`
	} `yaml:"enterprises"`
	Zones []struct {
		ID        string   `yaml:"id"`
		Name      string   `yaml:"name"`
		Countries []string `yaml:"countries"`
	} `yaml:"zones"`
	TaxRates []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		TaxCategory string `yaml:"tax_category"`
		Zone        string `yaml:"zone"`
		Amount      string `yaml:"amount"`
		Included    bool   `yaml:"included_in_price"`
	} `yaml:"tax_rates"`
	Variants []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Supplier    string `yaml:"supplier"`
		PriceMinor  int64  `yaml:"price_minor"`
		TaxCategory string `yaml:"tax_category"`
		OnHand      int    `yaml:"on_hand"`
		OnDemand    bool   `yaml:"on_demand"`
	} `yaml:"variants"`
	Overrides []struct {
		Variant     string `yaml:"variant"`
		Hub         string `yaml:"hub"`
		CountOnHand int    `yaml:"count_on_hand"`
		OnDemand    bool   `yaml:"on_demand"`
		PriceMinor  *int64 `yaml:"price_minor"`
	} `yaml:"variant_overrides"`
	Fees []struct {
		ID                  string         `yaml:"id"`
		Enterprise          string         `yaml:"enterprise"`
		Name                string         `yaml:"name"`
		FeeType             string         `yaml:"fee_type"`
		Calculator          seedCalculator `yaml:"calculator"`
		TaxCategory         string         `yaml:"tax_category"`
		InheritsTaxCategory bool           `yaml:"inherits_tax_category"`
	} `yaml:"enterprise_fees"`
	ShippingMethods []struct {
		ID              string         `yaml:"id"`
		Name            string         `yaml:"name"`
		RequiresAddress bool           `yaml:"requires_address"`
		Calculator      seedCalculator `yaml:"calculator"`
		TaxCategory     string         `yaml:"tax_category"`
	} `yaml:"shipping_methods"`
	PaymentMethods []struct {
		ID          string         `yaml:"id"`
		Name        string         `yaml:"name"`
		Provider    string         `yaml:"provider"`
		Calculator  seedCalculator `yaml:"calculator"`
		TaxCategory string         `yaml:"tax_category"`
	} `yaml:"payment_methods"`
	OrderCycles []struct {
		ID              string   `yaml:"id"`
		Name            string   `yaml:"name"`
		Coordinator     string   `yaml:"coordinator"`
		OpensAt         string   `yaml:"opens_at"`
		ClosesAt        string   `yaml:"closes_at"`
		CoordinatorFees []string `yaml:"coordinator_fees"`
		Exchanges       []struct {
			ID       string   `yaml:"id"`
			Sender   string   `yaml:"sender"`
			Receiver string   `yaml:"receiver"`
			Incoming bool     `yaml:"incoming"`
			Fees     []string `yaml:"fees"`
			Variants []string `yaml:"variants"`
		} `yaml:"exchanges"`
	} `yaml:"order_cycles"`
	Vouchers []struct {
		ID          string `yaml:"id"`
		Enterprise  string `yaml:"enterprise"`
		Code        string `yaml:"code"`
		Kind        string `yaml:"kind"`
		AmountMinor int64  `yaml:"amount_minor"`
		Percent     string `yaml:"percent"`
		Active      bool   `yaml:"active"`
		ExpiresAt   string `yaml:"expires_at"`
	} `yaml:"vouchers"`
	Customers []struct {
		ID          string          `yaml:"id"`
		Email       string          `yaml:"email"`
		BillAddress *domain.Address `yaml:"bill_address"`
		ShipAddress *domain.Address `yaml:"ship_address"`
	} `yaml:"customers"`
}

type seedCalculator struct {
	Type        string `yaml:"type"`
	AmountMinor int64  `yaml:"amount_minor"`
	Percent     string `yaml:"percent"`
}

func (s seedCalculator) toDomain() (domain.Calculator, error) {
	pct, err := parseDecimal(s.Percent)
	if err != nil {
		return domain.Calculator{}, err
	}
	calc := domain.Calculator{Type: domain.CalculatorType(s.Type), AmountMinor: s.AmountMinor, Percent: pct}
	switch calc.Type {
	case domain.CalculatorFlatRate, domain.CalculatorFlatPercentItemTotal,
		domain.CalculatorPerItem, domain.CalculatorFlatPercentPerItem:
		return calc, nil
	default:
		return domain.Calculator{}, fmt.Errorf("%w: %q", domain.ErrUnknownCalculator, s.Type)
	}
}

// LoadSeedFile читает YAML-файл и наполняет каталог и склад.
func LoadSeedFile(path string, catalog *CatalogRepository, stock domain.StockRepository) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return LoadSeed(data, catalog, stock)
}

// LoadSeed разбирает YAML-описание и наполняет каталог и склад.
func LoadSeed(data []byte, catalog *CatalogRepository, stock domain.StockRepository) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}

	for _, e := range seed.Enterprises {
		catalog.PutEnterprise(domain.Enterprise{
			ID: e.ID, Name: e.Name, IsHub: e.Hub, Active: e.Active,
			AllowOrderChanges: e.AllowOrderChanges, DefaultZoneID: e.DefaultZone,
			Address: e.Address, ShippingMethodIDs: e.ShippingMethods, PaymentMethodIDs: e.PaymentMethods,
		})
	}
	for _, z := range seed.Zones {
		catalog.PutZone(domain.Zone{ID: z.ID, Name: z.Name, Countries: z.Countries})
	}
	for _, r := range seed.TaxRates {
		amount, err := parseDecimal(r.Amount)
		if err != nil {
			return fmt.Errorf("tax rate %s: %w", r.ID, err)
		}
		catalog.PutTaxRate(domain.TaxRate{
			ID: r.ID, Name: r.Name, TaxCategoryID: r.TaxCategory, ZoneID: r.Zone,
			Amount: amount, IncludedInPrice: r.Included,
		})
	}
	for _, v := range seed.Variants {
		catalog.PutVariant(domain.Variant{
			ID: v.ID, Name: v.Name, SupplierID: v.Supplier, PriceMinor: v.PriceMinor, TaxCategoryID: v.TaxCategory,
		})
		if err := stock.Put(domain.StockRecord{VariantID: v.ID, CountOnHand: v.OnHand, OnDemand: v.OnDemand}); err != nil {
			return fmt.Errorf("stock for %s: %w", v.ID, err)
		}
	}
	for _, o := range seed.Overrides {
		if err := stock.Put(domain.StockRecord{
			VariantID: o.Variant, HubID: o.Hub, CountOnHand: o.CountOnHand, OnDemand: o.OnDemand, PriceMinor: o.PriceMinor,
		}); err != nil {
			return fmt.Errorf("override %s@%s: %w", o.Variant, o.Hub, err)
		}
	}
	for _, f := range seed.Fees {
		calc, err := f.Calculator.toDomain()
		if err != nil {
			return fmt.Errorf("enterprise fee %s: %w", f.ID, err)
		}
		catalog.PutEnterpriseFee(domain.EnterpriseFee{
			ID: f.ID, EnterpriseID: f.Enterprise, Name: f.Name, FeeType: f.FeeType, Calculator: calc,
			TaxCategoryID: f.TaxCategory, InheritsTaxCategory: f.InheritsTaxCategory,
		})
	}
	for _, m := range seed.ShippingMethods {
		calc, err := m.Calculator.toDomain()
		if err != nil {
			return fmt.Errorf("shipping method %s: %w", m.ID, err)
		}
		catalog.PutShippingMethod(domain.ShippingMethod{
			ID: m.ID, Name: m.Name, RequiresAddress: m.RequiresAddress, Calculator: calc, TaxCategoryID: m.TaxCategory,
		})
	}
	for _, m := range seed.PaymentMethods {
		calc, err := m.Calculator.toDomain()
		if err != nil {
			return fmt.Errorf("payment method %s: %w", m.ID, err)
		}
		catalog.PutPaymentMethod(domain.PaymentMethod{
			ID: m.ID, Name: m.Name, Provider: m.Provider, Calculator: calc, TaxCategoryID: m.TaxCategory,
		})
	}
	for _, oc := range seed.OrderCycles {
		opens, err := time.Parse(time.RFC3339, oc.OpensAt)
		if err != nil {
			return fmt.Errorf("order cycle %s opens_at: %w", oc.ID, err)
		}
		closes, err := time.Parse(time.RFC3339, oc.ClosesAt)
		if err != nil {
			return fmt.Errorf("order cycle %s closes_at: %w", oc.ID, err)
		}
		cycle := domain.OrderCycle{
			ID: oc.ID, Name: oc.Name, CoordinatorID: oc.Coordinator,
			OpensAt: opens, ClosesAt: closes, CoordinatorFeeIDs: oc.CoordinatorFees,
		}
		for _, ex := range oc.Exchanges {
			cycle.Exchanges = append(cycle.Exchanges, domain.Exchange{
				ID: ex.ID, SenderID: ex.Sender, ReceiverID: ex.Receiver, Incoming: ex.Incoming,
				EnterpriseFeeIDs: ex.Fees, VariantIDs: ex.Variants,
			})
		}
		catalog.PutOrderCycle(cycle)
	}
	for _, v := range seed.Vouchers {
		pct, err := parseDecimal(v.Percent)
		if err != nil {
			return fmt.Errorf("voucher %s: %w", v.ID, err)
		}
		voucher := domain.Voucher{
			ID: v.ID, EnterpriseID: v.Enterprise, Code: v.Code, Kind: domain.VoucherKind(v.Kind),
			AmountMinor: v.AmountMinor, Percent: pct, Active: v.Active,
		}
		if v.ExpiresAt != "" {
			expires, err := time.Parse(time.RFC3339, v.ExpiresAt)
			if err != nil {
				return fmt.Errorf("voucher %s expires_at: %w", v.ID, err)
			}
			voucher.ExpiresAt = &expires
		}
		catalog.PutVoucher(voucher)
	}
	for _, c := range seed.Customers {
		catalog.PutCustomer(domain.Customer{ID: c.ID, Email: c.Email, BillAddress: c.BillAddress, ShipAddress: c.ShipAddress})
	}

	return catalog.Validate()
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
