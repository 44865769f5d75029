package domain

import (
	"errors"
	"time"
)

// Типы событий аудита заказа.
const (
	EventStateChanged     = "OrderStateChanged"
	EventCartEmptied      = "CartEmptied"
	EventHubSwitched      = "HubSwitched"
	EventOrderCanceled    = "OrderCanceled"
	EventVoucherApplied   = "VoucherApplied"
	EventVoucherRemoved   = "VoucherRemoved"
	EventPaymentFailed    = "PaymentFailed"
	EventPaymentRedirect  = "PaymentRedirect"
	EventStockReserved    = "StockReserved"
	EventStockReleased    = "StockReleased"
	EventAnomalyDetected  = "AnomalyDetected"
	EventAdjustmentsFixed = "AdjustmentsFinalized"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// ErrTimelineEventInvalid — событие без заказа или типа.
var ErrTimelineEventInvalid = errors.New("timeline event requires order id and type")

// Normalize проверяет событие и проставляет время, если оно не задано.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	if e.OrderID == "" || e.Type == "" {
		return e, ErrTimelineEventInvalid
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
