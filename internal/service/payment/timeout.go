package payment

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
)

// Результаты авторизации для метрик.
const (
	ResultSuccess    = "success"
	ResultRedirect   = "redirect"
	ResultDeclined   = "declined"
	ResultTransient  = "transient"
	ResultBreakerOff = "breaker_open"
)

// TimeoutGateway ограничивает время ответа провайдера. Истёкший таймаут
// превращается во временную ошибку, которую покупатель может повторить.
type TimeoutGateway struct {
	next    domain.PaymentGateway
	timeout time.Duration
	metrics *metrics.CheckoutMetrics
	logger  *log.Entry
}

// NewTimeoutGateway оборачивает шлюз таймаутом.
func NewTimeoutGateway(next domain.PaymentGateway, timeout time.Duration, m *metrics.CheckoutMetrics, logger *log.Entry) *TimeoutGateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-gateway")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TimeoutGateway{next: next, timeout: timeout, metrics: m, logger: logger}
}

// Authorize вызывает провайдера в отдельной горутине и не ждёт дольше таймаута.
func (g *TimeoutGateway) Authorize(ctx context.Context, order domain.Order, method domain.PaymentMethod, amountMinor int64) domain.PaymentResult {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan domain.PaymentResult, 1)
	go func() {
		done <- g.next.Authorize(callCtx, order, method, amountMinor)
	}()

	var result domain.PaymentResult
	select {
	case result = <-done:
	case <-callCtx.Done():
		result = domain.PaymentResult{Err: &domain.PaymentError{
			Transient: true,
			Message:   "gateway did not respond within " + g.timeout.String(),
		}}
	}

	g.observe(order.ID, result)
	return result
}

func (g *TimeoutGateway) observe(orderID string, result domain.PaymentResult) {
	outcome := Classify(result)
	if g.metrics != nil {
		g.metrics.RecordGatewayResult(outcome)
	}
	if result.Err != nil {
		g.logger.WithError(result.Err).WithFields(log.Fields{
			"order_id": orderID,
			"result":   outcome,
		}).Warn("payment authorization failed")
	}
}

// Classify сводит результат шлюза к метке для метрик.
func Classify(result domain.PaymentResult) string {
	switch {
	case result.Err != nil && errors.Is(result.Err, errBreakerOpen):
		return ResultBreakerOff
	case result.Err != nil && errors.Is(result.Err, domain.ErrPaymentTemporary):
		return ResultTransient
	case result.Err != nil:
		return ResultDeclined
	case result.RedirectURL != "":
		return ResultRedirect
	case result.Success:
		return ResultSuccess
	default:
		return ResultDeclined
	}
}

var _ domain.PaymentGateway = (*TimeoutGateway)(nil)
