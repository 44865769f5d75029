package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// LastByEmail возвращает последний заказ покупателя с адресом, кроме excludeID.
	LastByEmail(email, excludeID string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	// Конфликт версий возвращается как ErrOrderVersionConflict, а не паникой.
	Save(order Order) error
}

// CatalogRepository — справочные данные, общие для всех заказов (только чтение).
type CatalogRepository interface {
	Enterprise(id string) (Enterprise, error)
	OrderCycle(id string) (OrderCycle, error)
	// ActiveOrderCycles возвращает открытые в момент now окна, распространяющие товары на хаб.
	ActiveOrderCycles(hubID string, now time.Time) ([]OrderCycle, error)
	Variant(id string) (Variant, error)
	EnterpriseFee(id string) (EnterpriseFee, error)
	ShippingMethod(id string) (ShippingMethod, error)
	PaymentMethod(id string) (PaymentMethod, error)
	Customer(id string) (Customer, error)
	// ZoneForCountry возвращает зону, включающую страну, или ok=false.
	ZoneForCountry(country string) (Zone, bool, error)
	// TaxRates возвращает ставки категории в зоне.
	TaxRates(taxCategoryID, zoneID string) ([]TaxRate, error)
	Voucher(id string) (Voucher, error)
	// VouchersByCode ищет ваучеры с точным (регистрозависимым) совпадением кода.
	VouchersByCode(code string) ([]Voucher, error)
}

// StockRepository хранит базовые остатки и переопределения хабов.
type StockRepository interface {
	// Get возвращает запись для (variant, hub); hubID="" — базовая запись каталога.
	Get(variantID, hubID string) (StockRecord, error)
	// Adjust атомарно меняет счётчик записи на delta.
	// Уход конечного счётчика в минус отклоняется с ErrInsufficientStock.
	Adjust(variantID, hubID string, delta int) error
	// Put создаёт или заменяет запись.
	Put(record StockRecord) error
}
