package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// unlimitedStock повторяет domain.StockRecord.Unlimited в SQL.
const unlimitedStock = `(on_demand OR (hub_id <> '' AND count_on_hand < 0))`

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) Get(variantID, hubID string) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		rec   domain.StockRecord
		price sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT variant_id, hub_id, count_on_hand, on_demand, price_minor, updated_at
		FROM stock_items
		WHERE variant_id = $1 AND hub_id = $2
	`, variantID, hubID).Scan(&rec.VariantID, &rec.HubID, &rec.CountOnHand, &rec.OnDemand, &price, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrStockRecordNotFound
		}
		return domain.StockRecord{}, fmt.Errorf("get stock record: %w", err)
	}
	if price.Valid {
		p := price.Int64
		rec.PriceMinor = &p
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Adjust меняет счётчик одним UPDATE: условие в WHERE не даёт двум
// параллельным списаниям увести ограниченный остаток в минус.
func (r *stockRepository) Adjust(variantID, hubID string, delta int) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE stock_items
		SET count_on_hand = CASE WHEN `+unlimitedStock+` THEN count_on_hand ELSE count_on_hand + $3 END,
		    updated_at = $4
		WHERE variant_id = $1
		  AND hub_id = $2
		  AND (`+unlimitedStock+` OR count_on_hand + $3 >= 0)
	`, variantID, hubID, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adjust stock %s@%s: %w", variantID, hubID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stock rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM stock_items WHERE variant_id = $1 AND hub_id = $2)
	`, variantID, hubID).Scan(&exists); err != nil {
		return fmt.Errorf("check stock record: %w", err)
	}
	if !exists {
		return domain.ErrStockRecordNotFound
	}
	return domain.ErrInsufficientStock
}

func (r *stockRepository) Put(record domain.StockRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	var price sql.NullInt64
	if record.PriceMinor != nil {
		price = sql.NullInt64{Int64: *record.PriceMinor, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_items (variant_id, hub_id, count_on_hand, on_demand, price_minor, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (variant_id, hub_id) DO UPDATE
		SET count_on_hand = EXCLUDED.count_on_hand,
		    on_demand = EXCLUDED.on_demand,
		    price_minor = EXCLUDED.price_minor,
		    updated_at = EXCLUDED.updated_at
	`, record.VariantID, record.HubID, record.CountOnHand, record.OnDemand, price, record.UpdatedAt); err != nil {
		return fmt.Errorf("put stock record: %w", err)
	}
	return nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
