package voucher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"
)

// Outcome — результат применения или снятия ваучера с пересчитанными итогами.
type Outcome struct {
	Adjustment domain.Adjustment
	// Invalidated — сколько незавершённых платежей пришлось аннулировать.
	Invalidated int
	Recompute   adjustments.Result
}

// Service применяет и снимает ваучеры. На заказе активен не более чем один ваучер.
type Service struct {
	catalog  domain.CatalogRepository
	pipeline *adjustments.Pipeline
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// New создаёт сервис ваучеров.
func New(catalog domain.CatalogRepository, pipeline *adjustments.Pipeline, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "voucher")
	}
	return &Service{
		catalog:  catalog,
		pipeline: pipeline,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Lookup находит ваучер по коду для хаба заказа без изменения заказа.
func (s *Service) Lookup(order domain.Order, code string) (domain.Voucher, error) {
	if strings.TrimSpace(code) == "" {
		return domain.Voucher{}, domain.ErrVoucherCodeBlank
	}
	candidates, err := s.catalog.VouchersByCode(code)
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("lookup voucher: %w", err)
	}
	if len(candidates) == 0 {
		return domain.Voucher{}, fmt.Errorf("%w: %q", domain.ErrVoucherNotFound, code)
	}

	now := s.now()
	for _, v := range candidates {
		if v.EnterpriseID != order.HubID {
			continue
		}
		if !v.UsableAt(now) {
			return domain.Voucher{}, fmt.Errorf("%w: %q is expired or inactive", domain.ErrVoucherInvalid, code)
		}
		return v, nil
	}
	return domain.Voucher{}, fmt.Errorf("%w: %q belongs to another enterprise", domain.ErrVoucherInvalid, code)
}

// Apply заменяет текущий ваучер заказа новым и пересчитывает корректировки.
// Незавершённые платежи аннулируются: их сумма рассчитывалась без новой скидки.
func (s *Service) Apply(ctx context.Context, order *domain.Order, code string) (Outcome, error) {
	if err := editable(*order); err != nil {
		return Outcome{}, err
	}
	v, err := s.Lookup(*order, code)
	if err != nil {
		return Outcome{}, err
	}

	dropVouchers(order)
	adj := domain.Adjustment{
		ID:         s.newID(),
		OrderID:    order.ID,
		Adjustable: domain.Adjustable{Kind: domain.AdjustableOrder, ID: order.ID},
		Originator: domain.Originator{Kind: domain.OriginatorVoucher, ID: v.ID},
		Label:      "Voucher " + v.Code,
		State:      domain.AdjustmentOpen,
		CreatedAt:  s.now(),
	}
	order.Adjustments = append(order.Adjustments, adj)
	invalidated := order.InvalidatePayments(s.now())

	res, err := s.pipeline.Recompute(ctx, order)
	if err != nil {
		return Outcome{}, err
	}
	idx := order.FindAdjustment(adj.ID)
	if idx < 0 {
		return Outcome{}, fmt.Errorf("%w: voucher adjustment %s vanished during recompute", domain.ErrMalformedOrder, adj.ID)
	}

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"voucher_id": v.ID,
		"amount":     order.Adjustments[idx].AmountMinor,
	}).Info("voucher applied")
	return Outcome{Adjustment: order.Adjustments[idx], Invalidated: invalidated, Recompute: res}, nil
}

// Remove снимает ваучер по ID корректировки и аннулирует незавершённые платежи,
// чтобы сумма без скидки не была списана по старому платежу.
func (s *Service) Remove(ctx context.Context, order *domain.Order, adjustmentID string) (Outcome, error) {
	if err := editable(*order); err != nil {
		return Outcome{}, err
	}
	idx := order.FindAdjustment(adjustmentID)
	if idx < 0 || order.Adjustments[idx].Originator.Kind != domain.OriginatorVoucher {
		return Outcome{}, fmt.Errorf("%w: voucher adjustment %s", domain.ErrAdjustmentNotFound, adjustmentID)
	}
	removed := order.Adjustments[idx]
	order.Adjustments = append(order.Adjustments[:idx:idx], order.Adjustments[idx+1:]...)
	invalidated := order.InvalidatePayments(s.now())

	res, err := s.pipeline.Recompute(ctx, order)
	if err != nil {
		return Outcome{}, err
	}
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"voucher_id":  removed.Originator.ID,
		"invalidated": invalidated,
	}).Info("voucher removed")
	return Outcome{Adjustment: removed, Invalidated: invalidated, Recompute: res}, nil
}

// Current возвращает корректировку активного ваучера.
func Current(order domain.Order) (domain.Adjustment, bool) {
	for _, adj := range order.Adjustments {
		if adj.Originator.Kind == domain.OriginatorVoucher {
			return adj, true
		}
	}
	return domain.Adjustment{}, false
}

func dropVouchers(order *domain.Order) {
	kept := order.Adjustments[:0:0]
	for _, adj := range order.Adjustments {
		if adj.Originator.Kind == domain.OriginatorVoucher {
			continue
		}
		kept = append(kept, adj)
	}
	order.Adjustments = kept
}

func editable(order domain.Order) error {
	switch order.State {
	case domain.StateComplete:
		return domain.ErrOrderCompleted
	case domain.StateCanceled:
		return domain.ErrOrderCanceled
	}
	return nil
}
