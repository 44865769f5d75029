package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

const orderColumns = `
	id, customer_id, email, currency, hub_id, order_cycle_id, state,
	bill_address, ship_address, shipping_method_id, payment_method_id,
	totals, completed_at, version, created_at, updated_at`

// queryer — общее у *sql.DB и *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// orderRepository хранит заголовок заказа в orders, а позиции, корректировки
// и платежи в дочерних таблицах. Save переписывает дочерние строки целиком.
type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.store.inTx(ctx, func(tx *sql.Tx) error {
		bill, ship, totals, err := encodeOrderDocs(order)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`,
			order.ID, order.CustomerID, order.Email, order.Currency, order.HubID, order.OrderCycleID,
			string(order.State), bill, ship, order.ShippingMethodID, order.PaymentMethodID,
			totals, nullTime(order.CompletedAt), order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return insertChildren(ctx, tx, order)
	})
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.store.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	if err := loadChildren(ctx, r.store.db, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) LastByEmail(email, excludeID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.store.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE email = $1
		  AND id <> $2
		  AND bill_address IS NOT NULL
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, email, excludeID))
	if err != nil {
		return domain.Order{}, err
	}
	if err := loadChildren(ctx, r.store.db, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{customerID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		if err := loadChildren(ctx, r.store.db, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.store.inTx(ctx, func(tx *sql.Tx) error {
		bill, ship, totals, err := encodeOrderDocs(order)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET customer_id = $1,
			    email = $2,
			    currency = $3,
			    hub_id = $4,
			    order_cycle_id = $5,
			    state = $6,
			    bill_address = $7,
			    ship_address = $8,
			    shipping_method_id = $9,
			    payment_method_id = $10,
			    totals = $11,
			    completed_at = $12,
			    version = version + 1,
			    updated_at = $13
			WHERE id = $14
			  AND version = $15
		`,
			order.CustomerID, order.Email, order.Currency, order.HubID, order.OrderCycleID,
			string(order.State), bill, ship, order.ShippingMethodID, order.PaymentMethodID,
			totals, nullTime(order.CompletedAt), order.UpdatedAt, order.ID, order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		for _, table := range []string{"line_items", "adjustments", "payments"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE order_id = $1`, order.ID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return insertChildren(ctx, tx, order)
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order            domain.Order
		state            string
		bill, ship, tots []byte
		completedAt      sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &order.Email, &order.Currency, &order.HubID, &order.OrderCycleID,
		&state, &bill, &ship, &order.ShippingMethodID, &order.PaymentMethodID,
		&tots, &completedAt, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	order.State = domain.CheckoutState(state)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		order.CompletedAt = &t
	}
	if order.BillAddress, err = decodeAddress(bill); err != nil {
		return domain.Order{}, fmt.Errorf("decode bill address of %s: %w", order.ID, err)
	}
	if order.ShipAddress, err = decodeAddress(ship); err != nil {
		return domain.Order{}, fmt.Errorf("decode ship address of %s: %w", order.ID, err)
	}
	if len(tots) > 0 {
		if err := json.Unmarshal(tots, &order.Totals); err != nil {
			return domain.Order{}, fmt.Errorf("decode totals of %s: %w", order.ID, err)
		}
	}
	return order, nil
}

func loadChildren(ctx context.Context, q queryer, order *domain.Order) error {
	var err error
	if order.LineItems, err = loadLineItems(ctx, q, order.ID); err != nil {
		return err
	}
	if order.Adjustments, err = loadAdjustments(ctx, q, order.ID); err != nil {
		return err
	}
	if order.Payments, err = loadPayments(ctx, q, order.ID); err != nil {
		return err
	}
	return nil
}

func loadLineItems(ctx context.Context, q queryer, orderID string) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, variant_id, quantity, max_quantity, price_minor, tax_category_id, supplier_id, created_at
		FROM line_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.ID, &li.VariantID, &li.Quantity, &li.MaxQuantity, &li.PriceMinor,
			&li.TaxCategoryID, &li.SupplierID, &li.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		li.CreatedAt = li.CreatedAt.UTC()
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

func loadAdjustments(ctx context.Context, q queryer, orderID string) ([]domain.Adjustment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, adjustable_kind, adjustable_id, originator_kind, originator_id, exchange_id,
		       label, amount_minor, included, state, role, tax_category_id, created_at, updated_at
		FROM adjustments
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []domain.Adjustment
	for rows.Next() {
		var (
			a                              domain.Adjustment
			adjKind, origKind, state, role string
		)
		if err := rows.Scan(&a.ID, &adjKind, &a.Adjustable.ID, &origKind, &a.Originator.ID, &a.Originator.ExchangeID,
			&a.Label, &a.AmountMinor, &a.Included, &state, &role, &a.TaxCategoryID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		a.OrderID = orderID
		a.Adjustable.Kind = domain.AdjustableKind(adjKind)
		a.Originator.Kind = domain.OriginatorKind(origKind)
		a.State = domain.AdjustmentState(state)
		a.Role = domain.FeeRole(role)
		a.CreatedAt = a.CreatedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		adjustments = append(adjustments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustments: %w", err)
	}
	return adjustments, nil
}

func loadPayments(ctx context.Context, q queryer, orderID string) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, payment_method_id, amount_minor, state, external_id, redirect_url, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var (
			p     domain.Payment
			state string
		)
		if err := rows.Scan(&p.ID, &p.PaymentMethodID, &p.AmountMinor, &state, &p.ExternalID,
			&p.RedirectURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.OrderID = orderID
		p.State = domain.PaymentState(state)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	for i, li := range order.LineItems {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO line_items (
				id, order_id, position, variant_id, quantity, max_quantity,
				price_minor, tax_category_id, supplier_id, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			li.ID, order.ID, i, li.VariantID, li.Quantity, li.MaxQuantity,
			li.PriceMinor, li.TaxCategoryID, li.SupplierID, li.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert line item %s: %w", li.ID, err)
		}
	}
	for i, a := range order.Adjustments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO adjustments (
				id, order_id, position, adjustable_kind, adjustable_id, originator_kind, originator_id,
				exchange_id, label, amount_minor, included, state, role, tax_category_id, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`,
			a.ID, order.ID, i, string(a.Adjustable.Kind), a.Adjustable.ID, string(a.Originator.Kind), a.Originator.ID,
			a.Originator.ExchangeID, a.Label, a.AmountMinor, a.Included, string(a.State), string(a.Role),
			a.TaxCategoryID, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert adjustment %s: %w", a.ID, err)
		}
	}
	for i, p := range order.Payments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (
				id, order_id, position, payment_method_id, amount_minor, state,
				external_id, redirect_url, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			p.ID, order.ID, i, p.PaymentMethodID, p.AmountMinor, string(p.State),
			p.ExternalID, p.RedirectURL, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert payment %s: %w", p.ID, err)
		}
	}
	return nil
}

func orderExists(ctx context.Context, q queryer, orderID string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

// encodeOrderDocs сериализует JSONB-колонки заказа; nil-адрес пишется как NULL.
func encodeOrderDocs(order domain.Order) (bill, ship, totals []byte, err error) {
	if order.BillAddress != nil {
		if bill, err = json.Marshal(order.BillAddress); err != nil {
			return nil, nil, nil, fmt.Errorf("encode bill address: %w", err)
		}
	}
	if order.ShipAddress != nil {
		if ship, err = json.Marshal(order.ShipAddress); err != nil {
			return nil, nil, nil, fmt.Errorf("encode ship address: %w", err)
		}
	}
	if totals, err = json.Marshal(order.Totals); err != nil {
		return nil, nil, nil, fmt.Errorf("encode totals: %w", err)
	}
	return bill, ship, totals, nil
}

func decodeAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var addr domain.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
