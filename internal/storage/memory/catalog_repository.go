package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// CatalogRepository хранит справочные данные в памяти. Put-методы
// используются сидированием и тестами.
type CatalogRepository struct {
	mu          sync.RWMutex
	enterprises map[string]domain.Enterprise
	cycles      map[string]domain.OrderCycle
	variants    map[string]domain.Variant
	fees        map[string]domain.EnterpriseFee
	shipping    map[string]domain.ShippingMethod
	payment     map[string]domain.PaymentMethod
	customers   map[string]domain.Customer
	zones       []domain.Zone
	rates       []domain.TaxRate
	vouchers    map[string]domain.Voucher
}

// NewCatalogRepository создаёт пустой каталог.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		enterprises: make(map[string]domain.Enterprise),
		cycles:      make(map[string]domain.OrderCycle),
		variants:    make(map[string]domain.Variant),
		fees:        make(map[string]domain.EnterpriseFee),
		shipping:    make(map[string]domain.ShippingMethod),
		payment:     make(map[string]domain.PaymentMethod),
		customers:   make(map[string]domain.Customer),
		vouchers:    make(map[string]domain.Voucher),
	}
}

func (c *CatalogRepository) PutEnterprise(e domain.Enterprise) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enterprises[e.ID] = e
}

func (c *CatalogRepository) PutOrderCycle(oc domain.OrderCycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles[oc.ID] = oc
}

func (c *CatalogRepository) PutVariant(v domain.Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[v.ID] = v
}

func (c *CatalogRepository) PutEnterpriseFee(f domain.EnterpriseFee) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fees[f.ID] = f
}

func (c *CatalogRepository) PutShippingMethod(m domain.ShippingMethod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shipping[m.ID] = m
}

func (c *CatalogRepository) PutPaymentMethod(m domain.PaymentMethod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payment[m.ID] = m
}

func (c *CatalogRepository) PutCustomer(cu domain.Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[cu.ID] = cu
}

func (c *CatalogRepository) PutZone(z domain.Zone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.zones {
		if c.zones[i].ID == z.ID {
			c.zones[i] = z
			return
		}
	}
	c.zones = append(c.zones, z)
}

func (c *CatalogRepository) PutTaxRate(r domain.TaxRate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rates {
		if c.rates[i].ID == r.ID {
			c.rates[i] = r
			return
		}
	}
	c.rates = append(c.rates, r)
}

func (c *CatalogRepository) PutVoucher(v domain.Voucher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vouchers[v.ID] = v
}

// DeleteEnterpriseFee нужен, чтобы воспроизводить удаление справочника администратором.
func (c *CatalogRepository) DeleteEnterpriseFee(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fees, id)
}

func (c *CatalogRepository) Enterprise(id string) (domain.Enterprise, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.enterprises[id]
	if !ok {
		return domain.Enterprise{}, domain.ErrEnterpriseNotFound
	}
	return e, nil
}

func (c *CatalogRepository) OrderCycle(id string) (domain.OrderCycle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	oc, ok := c.cycles[id]
	if !ok {
		return domain.OrderCycle{}, domain.ErrOrderCycleNotFound
	}
	return oc, nil
}

func (c *CatalogRepository) ActiveOrderCycles(hubID string, now time.Time) ([]domain.OrderCycle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.OrderCycle, 0)
	for _, oc := range c.cycles {
		if oc.IsOpen(now) && oc.DistributesTo(hubID) {
			result = append(result, oc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ClosesAt.Equal(result[j].ClosesAt) {
			return result[i].ClosesAt.Before(result[j].ClosesAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (c *CatalogRepository) Variant(id string) (domain.Variant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variants[id]
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return v, nil
}

func (c *CatalogRepository) EnterpriseFee(id string) (domain.EnterpriseFee, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fees[id]
	if !ok {
		return domain.EnterpriseFee{}, domain.ErrEnterpriseFeeNotFound
	}
	return f, nil
}

func (c *CatalogRepository) ShippingMethod(id string) (domain.ShippingMethod, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.shipping[id]
	if !ok {
		return domain.ShippingMethod{}, domain.ErrShippingMethodNotFound
	}
	return m, nil
}

func (c *CatalogRepository) PaymentMethod(id string) (domain.PaymentMethod, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.payment[id]
	if !ok {
		return domain.PaymentMethod{}, domain.ErrPaymentMethodNotFound
	}
	return m, nil
}

func (c *CatalogRepository) Customer(id string) (domain.Customer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cu, ok := c.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return cu, nil
}

func (c *CatalogRepository) ZoneForCountry(country string) (domain.Zone, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, z := range c.zones {
		if z.Includes(country) {
			return z, true, nil
		}
	}
	return domain.Zone{}, false, nil
}

func (c *CatalogRepository) TaxRates(taxCategoryID, zoneID string) ([]domain.TaxRate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]domain.TaxRate, 0)
	for _, r := range c.rates {
		if r.TaxCategoryID == taxCategoryID && r.ZoneID == zoneID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (c *CatalogRepository) Voucher(id string) (domain.Voucher, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vouchers[id]
	if !ok {
		return domain.Voucher{}, domain.ErrVoucherNotFound
	}
	return v, nil
}

func (c *CatalogRepository) VouchersByCode(code string) ([]domain.Voucher, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]domain.Voucher, 0)
	for _, v := range c.vouchers {
		if v.Code == code {
			result = append(result, v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Validate проверяет ссылочную целостность каталога после загрузки.
func (c *CatalogRepository) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, oc := range c.cycles {
		for _, feeID := range oc.CoordinatorFeeIDs {
			if _, ok := c.fees[feeID]; !ok {
				return fmt.Errorf("order cycle %s: unknown coordinator fee %s", oc.ID, feeID)
			}
		}
		for _, ex := range oc.Exchanges {
			for _, feeID := range ex.EnterpriseFeeIDs {
				if _, ok := c.fees[feeID]; !ok {
					return fmt.Errorf("order cycle %s exchange %s: unknown fee %s", oc.ID, ex.ID, feeID)
				}
			}
			for _, variantID := range ex.VariantIDs {
				if _, ok := c.variants[variantID]; !ok {
					return fmt.Errorf("order cycle %s exchange %s: unknown variant %s", oc.ID, ex.ID, variantID)
				}
			}
		}
	}
	return nil
}

var _ domain.CatalogRepository = (*CatalogRepository)(nil)
