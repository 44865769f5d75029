package adjustments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/hubcart/internal/service/adjustments"

// WarningVoucherExcess — ваучер больше суммы заказа, остаток сгорает.
const WarningVoucherExcess = "voucher value exceeds the order total; the excess is not carried forward or refunded"

// Result — итог пересчёта.
type Result struct {
	Totals    domain.OrderTotals
	Warnings  []string
	Anomalies []domain.Anomaly
}

// Option настраивает Pipeline.
type Option func(*Pipeline)

// WithTracer задаёт OpenTelemetry tracer.
func WithTracer(tr trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = tr }
}

// WithMetrics включает Prometheus-метрики пересчёта.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithAnomalyReporter задаёт получателя аномалий данных.
func WithAnomalyReporter(r domain.AnomalyReporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов корректировок.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// Pipeline пересчитывает сборы, налоги, доставку, оплату и ваучер заказа.
// Шаги выполняются строго по порядку:
//  1. сборы предприятий (координатор, поставщики, дистрибьютор);
//  2. налоги на позиции;
//  3. сборы доставки и оплаты;
//  4. налоги на сборы (дочерние корректировки);
//  5. ваучер против итоговой суммы до скидки.
//
// Повторный вызов без изменений заказа даёт идентичный набор корректировок.
type Pipeline struct {
	catalog  domain.CatalogRepository
	reporter domain.AnomalyReporter
	metrics  *metrics.CheckoutMetrics
	tracer   trace.Tracer
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// New создаёт пайплайн корректировок.
func New(catalog domain.CatalogRepository, logger *log.Entry, opts ...Option) *Pipeline {
	if logger == nil {
		logger = log.New().WithField("component", "adjustments")
	}
	p := &Pipeline{
		catalog: catalog,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Recompute пересчитывает открытые корректировки заказа на месте и обновляет итоги.
// Закрытые корректировки не пересчитываются и учитываются по сохранённой сумме.
func (p *Pipeline) Recompute(ctx context.Context, order *domain.Order) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "AdjustmentPipeline.Recompute", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.line_items", len(order.LineItems)),
	))
	defer span.End()

	started := time.Now()
	res, err := p.recompute(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.WithError(err).WithField("order_id", order.ID).Error("adjustment recompute failed")
		return res, err
	}
	if p.metrics != nil {
		p.metrics.RecordRecomputeDuration(time.Since(started))
	}
	span.SetAttributes(
		attribute.Int("order.adjustments", len(order.Adjustments)),
		attribute.Int64("order.total_minor", res.Totals.Total),
	)
	return res, nil
}

func (p *Pipeline) recompute(ctx context.Context, order *domain.Order) (Result, error) {
	var res Result
	now := p.now()

	var cycle *domain.OrderCycle
	if order.OrderCycleID != "" {
		oc, err := p.catalog.OrderCycle(order.OrderCycleID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderCycleNotFound) {
				return res, fmt.Errorf("%w: order cycle %s is missing", domain.ErrMalformedOrder, order.OrderCycleID)
			}
			return res, fmt.Errorf("load order cycle: %w", err)
		}
		cycle = &oc
	}

	existing, err := p.sanitize(ctx, order, cycle, &res)
	if err != nil {
		return res, err
	}

	m := newMerger(order.ID, existing, now, p.newID)

	if cycle != nil {
		if err := p.planEnterpriseFees(order, *cycle, m); err != nil {
			return res, err
		}
	}

	zoneID, err := p.taxZone(*order)
	if err != nil {
		return res, err
	}
	if err := p.planLineItemTaxes(order, zoneID, m); err != nil {
		return res, err
	}
	if err := p.planMethodFees(order, m, &res); err != nil {
		return res, err
	}
	if err := p.planFeeTaxes(zoneID, m); err != nil {
		return res, err
	}

	totals := sumTotals(order.LineItems, m.out)
	if err := p.planVoucher(order, existing, totals.preVoucher(), m, &res); err != nil {
		return res, err
	}

	if stale := m.stale(); stale > 0 {
		p.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"stale":    stale,
		}).Debug("stale adjustments dropped")
	}

	order.Adjustments = m.out
	order.Totals = sumTotals(order.LineItems, m.out).OrderTotals
	res.Totals = order.Totals
	for _, w := range res.Warnings {
		p.logger.WithField("order_id", order.ID).Warn(w)
	}
	return res, nil
}

// sanitize удаляет фантомные корректировки (ссылаются на удалённую позицию
// или удалённую родительскую корректировку) и проверяет ссылки на обмены окна.
func (p *Pipeline) sanitize(ctx context.Context, order *domain.Order, cycle *domain.OrderCycle, res *Result) ([]domain.Adjustment, error) {
	lineItems := make(map[string]bool, len(order.LineItems))
	for _, li := range order.LineItems {
		lineItems[li.ID] = true
	}

	first := make([]domain.Adjustment, 0, len(order.Adjustments))
	for _, adj := range order.Adjustments {
		if !adj.Originator.Kind.Valid() {
			return nil, fmt.Errorf("%w: adjustment %s has unknown originator %q", domain.ErrMalformedOrder, adj.ID, adj.Originator.Kind)
		}
		if adj.Originator.Kind == domain.OriginatorEnterpriseFee && adj.Originator.ExchangeID != "" {
			switch {
			case cycle != nil:
				if _, ok := cycle.Exchange(adj.Originator.ExchangeID); !ok {
					return nil, fmt.Errorf("%w: adjustment %s references exchange %s missing from order cycle %s",
						domain.ErrMalformedOrder, adj.ID, adj.Originator.ExchangeID, cycle.ID)
				}
			case adj.Closed():
				return nil, fmt.Errorf("%w: closed adjustment %s references exchange %s of an unbound order",
					domain.ErrMalformedOrder, adj.ID, adj.Originator.ExchangeID)
			}
		}
		if adj.Adjustable.Kind == domain.AdjustableLineItem && !lineItems[adj.Adjustable.ID] {
			p.reportPhantom(ctx, order.ID, adj, res)
			continue
		}
		first = append(first, adj)
	}

	ids := make(map[string]bool, len(first))
	for _, adj := range first {
		ids[adj.ID] = true
	}
	kept := make([]domain.Adjustment, 0, len(first))
	for _, adj := range first {
		if adj.Adjustable.Kind == domain.AdjustableAdjustment && !ids[adj.Adjustable.ID] {
			p.reportPhantom(ctx, order.ID, adj, res)
			continue
		}
		kept = append(kept, adj)
	}
	return kept, nil
}

func (p *Pipeline) reportPhantom(ctx context.Context, orderID string, adj domain.Adjustment, res *Result) {
	anomaly := domain.Anomaly{
		Kind:         domain.AnomalyPhantomFee,
		OrderID:      orderID,
		AdjustmentID: adj.ID,
		Detail: fmt.Sprintf("%s adjustment references missing %s %s",
			adj.Originator.Kind, adj.Adjustable.Kind, adj.Adjustable.ID),
	}
	res.Anomalies = append(res.Anomalies, anomaly)
	p.logger.WithFields(log.Fields{
		"order_id":      orderID,
		"adjustment_id": adj.ID,
	}).Warn(anomaly.Detail)
	if p.reporter != nil {
		p.reporter.ReportAnomaly(ctx, anomaly)
	}
}

// planEnterpriseFees раскладывает сборы окна: сначала по позициям, затем на заказ.
func (p *Pipeline) planEnterpriseFees(order *domain.Order, cycle domain.OrderCycle, m *merger) error {
	coordinatorFees, err := p.fees(cycle.CoordinatorFeeIDs)
	if err != nil {
		return err
	}
	outgoing, hasOutgoing := cycle.OutgoingTo(order.HubID)

	for _, li := range order.LineItems {
		items := []domain.LineItem{li}
		target := domain.Adjustable{Kind: domain.AdjustableLineItem, ID: li.ID}

		for _, fee := range coordinatorFees {
			if !fee.Calculator.Type.PerItem() {
				continue
			}
			if err := p.planFee(fee, "", domain.RoleCoordinator, target, items, "", m); err != nil {
				return err
			}
		}
		if incoming, ok := cycle.IncomingFor(li.VariantID); ok {
			if err := p.planExchangeItemFees(incoming, li, m); err != nil {
				return err
			}
		}
		if hasOutgoing && outgoing.Carries(li.VariantID) {
			if err := p.planExchangeItemFees(outgoing, li, m); err != nil {
				return err
			}
		}
	}

	orderTarget := domain.Adjustable{Kind: domain.AdjustableOrder, ID: order.ID}
	for _, fee := range coordinatorFees {
		if fee.Calculator.Type.PerItem() {
			continue
		}
		if err := p.planFee(fee, "", domain.RoleCoordinator, orderTarget, order.LineItems, "", m); err != nil {
			return err
		}
	}

	for _, ex := range cycle.Exchanges {
		if !ex.Incoming && ex.ReceiverID != order.HubID {
			continue
		}
		carried := make([]domain.LineItem, 0, len(order.LineItems))
		for _, li := range order.LineItems {
			if ex.Carries(li.VariantID) {
				carried = append(carried, li)
			}
		}
		if len(carried) == 0 {
			continue
		}
		fees, err := p.fees(ex.EnterpriseFeeIDs)
		if err != nil {
			return err
		}
		for _, fee := range fees {
			if fee.Calculator.Type.PerItem() {
				continue
			}
			// Сбор обмена на весь заказ не наследует категорию: единственной позиции нет.
			if err := p.planFee(fee, ex.ID, ex.Role(), orderTarget, carried, "", m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) planExchangeItemFees(ex domain.Exchange, li domain.LineItem, m *merger) error {
	fees, err := p.fees(ex.EnterpriseFeeIDs)
	if err != nil {
		return err
	}
	target := domain.Adjustable{Kind: domain.AdjustableLineItem, ID: li.ID}
	for _, fee := range fees {
		if !fee.Calculator.Type.PerItem() {
			continue
		}
		if err := p.planFee(fee, ex.ID, ex.Role(), target, []domain.LineItem{li}, li.TaxCategoryID, m); err != nil {
			return err
		}
	}
	return nil
}

// planFee добавляет корректировку сбора. inherited — категория товара, если сбор её наследует.
func (p *Pipeline) planFee(fee domain.EnterpriseFee, exchangeID string, role domain.FeeRole, target domain.Adjustable,
	items []domain.LineItem, inherited string, m *merger) error {
	amount, err := Compute(fee.Calculator, items)
	if err != nil {
		return fmt.Errorf("enterprise fee %s: %w", fee.ID, err)
	}
	taxCategory := fee.TaxCategoryID
	if fee.InheritsTaxCategory {
		taxCategory = inherited
	}
	m.put(domain.Adjustment{
		Adjustable:    target,
		Originator:    domain.Originator{Kind: domain.OriginatorEnterpriseFee, ID: fee.ID, ExchangeID: exchangeID},
		Label:         fee.Name,
		AmountMinor:   amount,
		Role:          role,
		TaxCategoryID: taxCategory,
	})
	return nil
}

// fees загружает сборы по ID; удалённые из справочника пропускаются.
func (p *Pipeline) fees(ids []string) ([]domain.EnterpriseFee, error) {
	result := make([]domain.EnterpriseFee, 0, len(ids))
	for _, id := range ids {
		fee, err := p.catalog.EnterpriseFee(id)
		if err != nil {
			if errors.Is(err, domain.ErrEnterpriseFeeNotFound) {
				p.logger.WithField("fee_id", id).Warn("enterprise fee configured on order cycle no longer exists")
				continue
			}
			return nil, fmt.Errorf("load enterprise fee %s: %w", id, err)
		}
		result = append(result, fee)
	}
	return result, nil
}

// taxZone — зона страны платёжного адреса, иначе зона хаба по умолчанию.
func (p *Pipeline) taxZone(order domain.Order) (string, error) {
	if order.BillAddress != nil && order.BillAddress.Country != "" {
		zone, ok, err := p.catalog.ZoneForCountry(order.BillAddress.Country)
		if err != nil {
			return "", fmt.Errorf("resolve tax zone: %w", err)
		}
		if ok {
			return zone.ID, nil
		}
	}
	if order.HubID == "" {
		return "", nil
	}
	hub, err := p.catalog.Enterprise(order.HubID)
	if err != nil {
		if errors.Is(err, domain.ErrEnterpriseNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load hub: %w", err)
	}
	return hub.DefaultZoneID, nil
}

func (p *Pipeline) rates(taxCategoryID, zoneID string) ([]domain.TaxRate, error) {
	if taxCategoryID == "" || zoneID == "" {
		return nil, nil
	}
	rates, err := p.catalog.TaxRates(taxCategoryID, zoneID)
	if err != nil {
		return nil, fmt.Errorf("load tax rates for %s: %w", taxCategoryID, err)
	}
	return rates, nil
}

func (p *Pipeline) planLineItemTaxes(order *domain.Order, zoneID string, m *merger) error {
	for _, li := range order.LineItems {
		rates, err := p.rates(li.TaxCategoryID, zoneID)
		if err != nil {
			return err
		}
		for _, rate := range rates {
			amount := TaxOn(li.AmountMinor(), rate)
			if amount == 0 {
				continue
			}
			m.put(domain.Adjustment{
				Adjustable:  domain.Adjustable{Kind: domain.AdjustableLineItem, ID: li.ID},
				Originator:  domain.Originator{Kind: domain.OriginatorTaxRate, ID: rate.ID},
				Label:       rate.Name,
				AmountMinor: amount,
				Included:    rate.IncludedInPrice,
			})
		}
	}
	return nil
}

// planMethodFees считает сборы выбранных способов доставки и оплаты.
// Удалённый из справочника способ снимается с заказа с предупреждением.
func (p *Pipeline) planMethodFees(order *domain.Order, m *merger, res *Result) error {
	target := domain.Adjustable{Kind: domain.AdjustableOrder, ID: order.ID}

	if order.ShippingMethodID != "" {
		method, err := p.catalog.ShippingMethod(order.ShippingMethodID)
		switch {
		case errors.Is(err, domain.ErrShippingMethodNotFound):
			res.Warnings = append(res.Warnings, fmt.Sprintf("shipping method %s is no longer available", order.ShippingMethodID))
			order.ShippingMethodID = ""
		case err != nil:
			return fmt.Errorf("load shipping method: %w", err)
		default:
			amount, err := Compute(method.Calculator, order.LineItems)
			if err != nil {
				return fmt.Errorf("shipping method %s: %w", method.ID, err)
			}
			m.put(domain.Adjustment{
				Adjustable:    target,
				Originator:    domain.Originator{Kind: domain.OriginatorShippingMethod, ID: method.ID},
				Label:         method.Name,
				AmountMinor:   amount,
				TaxCategoryID: method.TaxCategoryID,
			})
		}
	}

	if order.PaymentMethodID != "" {
		method, err := p.catalog.PaymentMethod(order.PaymentMethodID)
		switch {
		case errors.Is(err, domain.ErrPaymentMethodNotFound):
			res.Warnings = append(res.Warnings, fmt.Sprintf("payment method %s is no longer available", order.PaymentMethodID))
			order.PaymentMethodID = ""
		case err != nil:
			return fmt.Errorf("load payment method: %w", err)
		default:
			amount, err := Compute(method.Calculator, order.LineItems)
			if err != nil {
				return fmt.Errorf("payment method %s: %w", method.ID, err)
			}
			m.put(domain.Adjustment{
				Adjustable:    target,
				Originator:    domain.Originator{Kind: domain.OriginatorPaymentMethod, ID: method.ID},
				Label:         method.Name,
				AmountMinor:   amount,
				TaxCategoryID: method.TaxCategoryID,
			})
		}
	}
	return nil
}

// planFeeTaxes начисляет налог на каждый открытый сбор с категорией.
// Налог привязывается к корректировке сбора, а не к заказу.
func (p *Pipeline) planFeeTaxes(zoneID string, m *merger) error {
	fees := make([]domain.Adjustment, 0, len(m.out))
	for _, adj := range m.out {
		if adj.IsFee() && !adj.Closed() && adj.TaxCategoryID != "" {
			fees = append(fees, adj)
		}
	}
	for _, fee := range fees {
		rates, err := p.rates(fee.TaxCategoryID, zoneID)
		if err != nil {
			return err
		}
		for _, rate := range rates {
			amount := TaxOn(fee.AmountMinor, rate)
			if amount == 0 {
				continue
			}
			m.put(domain.Adjustment{
				Adjustable:  domain.Adjustable{Kind: domain.AdjustableAdjustment, ID: fee.ID},
				Originator:  domain.Originator{Kind: domain.OriginatorTaxRate, ID: rate.ID},
				Label:       rate.Name,
				AmountMinor: amount,
				Included:    rate.IncludedInPrice,
			})
		}
	}
	return nil
}

// planVoucher пересчитывает единственную открытую корректировку ваучера
// против суммы до скидки. Итог никогда не уходит в минус.
func (p *Pipeline) planVoucher(order *domain.Order, existing []domain.Adjustment, preVoucher int64, m *merger, res *Result) error {
	var current *domain.Adjustment
	for i := range existing {
		adj := existing[i]
		if adj.Originator.Kind == domain.OriginatorVoucher && !adj.Closed() {
			current = &adj
			break
		}
	}
	if current == nil {
		return nil
	}

	voucher, err := p.catalog.Voucher(current.Originator.ID)
	if err != nil {
		if errors.Is(err, domain.ErrVoucherNotFound) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("voucher %s is no longer available", current.Originator.ID))
			return nil
		}
		return fmt.Errorf("load voucher: %w", err)
	}

	if preVoucher < 0 {
		preVoucher = 0
	}
	var discount int64
	switch voucher.Kind {
	case domain.VoucherFlat:
		discount = voucher.AmountMinor
	case domain.VoucherPercentage:
		discount = percentOf(preVoucher, voucher.Percent)
	default:
		return fmt.Errorf("%w: voucher %s has unknown kind %q", domain.ErrMalformedOrder, voucher.ID, voucher.Kind)
	}
	if discount > preVoucher {
		res.Warnings = append(res.Warnings, WarningVoucherExcess)
		discount = preVoucher
	}

	m.put(domain.Adjustment{
		Adjustable:  domain.Adjustable{Kind: domain.AdjustableOrder, ID: order.ID},
		Originator:  domain.Originator{Kind: domain.OriginatorVoucher, ID: voucher.ID},
		Label:       "Voucher " + voucher.Code,
		AmountMinor: -discount,
	})
	return nil
}

// Finalize замораживает все корректировки заказа. Вызывается при завершении
// оформления, если хаб не разрешает последующие изменения.
func (p *Pipeline) Finalize(order *domain.Order) int {
	now := p.now()
	closed := 0
	for i := range order.Adjustments {
		if order.Adjustments[i].Closed() {
			continue
		}
		order.Adjustments[i].State = domain.AdjustmentClosed
		order.Adjustments[i].UpdatedAt = now
		closed++
	}
	return closed
}

type totals struct {
	domain.OrderTotals
}

func (t totals) preVoucher() int64 {
	return t.ItemTotal + t.FeeTotal + t.ShipTotal + t.PaymentFeeTotal + t.AdditionalTaxTotal
}

func sumTotals(items []domain.LineItem, adjustments []domain.Adjustment) totals {
	var t totals
	t.ItemTotal = subtotal(items)
	for _, adj := range adjustments {
		switch adj.Originator.Kind {
		case domain.OriginatorEnterpriseFee:
			t.FeeTotal += adj.AmountMinor
		case domain.OriginatorShippingMethod:
			t.ShipTotal += adj.AmountMinor
		case domain.OriginatorPaymentMethod:
			t.PaymentFeeTotal += adj.AmountMinor
		case domain.OriginatorTaxRate:
			if adj.Included {
				t.IncludedTaxTotal += adj.AmountMinor
			} else {
				t.AdditionalTaxTotal += adj.AmountMinor
			}
		case domain.OriginatorVoucher:
			t.VoucherTotal += adj.AmountMinor
		}
	}
	t.Total = t.preVoucher() + t.VoucherTotal
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}
