package stock

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// UnlimitedSentinel — значение on_hand для неограниченного остатка в JSON/gRPC ответах.
const UnlimitedSentinel = math.MaxInt32

// Availability — итог поиска остатка для пары (вариант, хаб).
type Availability struct {
	VariantID string
	// HubID — ключ авторитетной записи: ID хаба у переопределения, пустой у записи каталога.
	HubID     string
	OnHand    int
	Unlimited bool
	// PriceMinor — цена переопределения хаба, если задана.
	PriceMinor *int64
}

// Covers проверяет, хватает ли остатка на qty единиц.
func (a Availability) Covers(qty int) bool {
	return a.Unlimited || qty <= a.OnHand
}

// Reported возвращает on_hand для клиента: неограниченный остаток заменяется конечным sentinel.
func (a Availability) Reported() int {
	if a.Unlimited {
		return UnlimitedSentinel
	}
	if a.OnHand < 0 {
		return 0
	}
	return a.OnHand
}

// Ledger отвечает на вопрос "сколько можно купить" и списывает резервы.
// Переопределение хаба полностью заменяет запись каталога, значения не смешиваются.
type Ledger struct {
	repo   domain.StockRepository
	logger *log.Entry
}

// NewLedger создаёт учёт остатков поверх репозитория.
func NewLedger(repo domain.StockRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "stock-ledger")
	}
	return &Ledger{repo: repo, logger: logger}
}

// Available возвращает доступный остаток варианта на хабе.
// Вариант без записей считается отсутствующим (OnHand=0).
func (l *Ledger) Available(variantID, hubID string) (Availability, error) {
	if hubID != "" {
		override, err := l.repo.Get(variantID, hubID)
		switch {
		case err == nil:
			return availabilityOf(override), nil
		case !errors.Is(err, domain.ErrStockRecordNotFound):
			return Availability{}, fmt.Errorf("load stock override %s@%s: %w", variantID, hubID, err)
		}
	}

	base, err := l.repo.Get(variantID, "")
	if err != nil {
		if errors.Is(err, domain.ErrStockRecordNotFound) {
			return Availability{VariantID: variantID}, nil
		}
		return Availability{}, fmt.Errorf("load stock %s: %w", variantID, err)
	}
	return availabilityOf(base), nil
}

func availabilityOf(rec domain.StockRecord) Availability {
	return Availability{
		VariantID:  rec.VariantID,
		HubID:      rec.HubID,
		OnHand:     rec.CountOnHand,
		Unlimited:  rec.Unlimited(),
		PriceMinor: rec.PriceMinor,
	}
}

// Reserve списывает qty единиц с авторитетной записи.
func (l *Ledger) Reserve(variantID, hubID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	avail, err := l.Available(variantID, hubID)
	if err != nil {
		return err
	}
	if avail.Unlimited {
		return nil
	}
	if !avail.Covers(qty) {
		return shortage(variantID, qty, avail.OnHand)
	}
	if err := l.repo.Adjust(variantID, avail.HubID, -qty); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			// Остаток успели забрать между чтением и списанием.
			fresh, _ := l.Available(variantID, hubID)
			return shortage(variantID, qty, fresh.OnHand)
		}
		return fmt.Errorf("reserve %s: %w", variantID, err)
	}
	return nil
}

// Release возвращает qty единиц на авторитетную запись.
func (l *Ledger) Release(variantID, hubID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	avail, err := l.Available(variantID, hubID)
	if err != nil {
		return err
	}
	if avail.Unlimited {
		return nil
	}
	if err := l.repo.Adjust(variantID, avail.HubID, qty); err != nil {
		return fmt.Errorf("release %s: %w", variantID, err)
	}
	return nil
}

// ReserveOrder резервирует все позиции заказа. При нехватке уже сделанные
// резервы откатываются, а ошибка перечисляет все проблемные позиции.
func (l *Ledger) ReserveOrder(order domain.Order) error {
	if shortages, err := l.InsufficientStockLines(order); err != nil {
		return err
	} else if len(shortages) > 0 {
		return &domain.StockError{Lines: shortages}
	}

	reserved := make([]domain.LineItem, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		if err := l.Reserve(li.VariantID, order.HubID, li.Quantity); err != nil {
			l.rollback(order.HubID, reserved)
			return err
		}
		reserved = append(reserved, li)
	}
	return nil
}

// ReleaseOrder возвращает остатки всех позиций заказа.
func (l *Ledger) ReleaseOrder(order domain.Order) {
	l.rollback(order.HubID, order.LineItems)
}

func (l *Ledger) rollback(hubID string, items []domain.LineItem) {
	for _, li := range items {
		if err := l.Release(li.VariantID, hubID, li.Quantity); err != nil {
			l.logger.WithError(err).WithFields(log.Fields{
				"variant_id": li.VariantID,
				"hub_id":     hubID,
			}).Error("stock release failed")
		}
	}
}

// InsufficientStockLines возвращает позиции, количество которых превышает
// текущий остаток. Результат всегда читается заново и не кэшируется.
func (l *Ledger) InsufficientStockLines(order domain.Order) ([]domain.StockShortage, error) {
	var lines []domain.StockShortage
	for _, li := range order.LineItems {
		avail, err := l.Available(li.VariantID, order.HubID)
		if err != nil {
			return nil, err
		}
		if !avail.Covers(li.Quantity) {
			lines = append(lines, domain.StockShortage{
				VariantID: li.VariantID,
				Requested: li.Quantity,
				Available: avail.Reported(),
			})
		}
	}
	return lines, nil
}

func shortage(variantID string, requested, available int) error {
	if available < 0 {
		available = 0
	}
	return &domain.StockError{Lines: []domain.StockShortage{{
		VariantID: variantID,
		Requested: requested,
		Available: available,
	}}}
}
