package audit

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/metrics"
)

// Recorder пишет события заказа в timeline и transactional outbox.
// Ошибки записи логируются и не прерывают бизнес-операцию.
type Recorder struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewRecorder создаёт recorder. Любой из репозиториев может быть nil.
func NewRecorder(outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.CheckoutMetrics, logger *log.Entry) *Recorder {
	if logger == nil {
		logger = log.New().WithField("component", "audit")
	}
	return &Recorder{
		outbox:   outbox,
		timeline: timeline,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

// Transition фиксирует переход оформления.
func (r *Recorder) Transition(orderID string, from, to domain.CheckoutState) {
	if r.metrics != nil {
		r.metrics.RecordTransition(string(from), string(to))
	}
	r.Record(orderID, domain.EventStateChanged, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

// ReportAnomaly реализует domain.AnomalyReporter.
func (r *Recorder) ReportAnomaly(_ context.Context, anomaly domain.Anomaly) {
	if r.metrics != nil {
		r.metrics.RecordAnomaly(anomaly.Kind)
	}
	r.logger.WithFields(log.Fields{
		"order_id":      anomaly.OrderID,
		"adjustment_id": anomaly.AdjustmentID,
		"kind":          anomaly.Kind,
	}).Error("data anomaly detected")

	r.Record(anomaly.OrderID, domain.EventAnomalyDetected, map[string]interface{}{
		"kind":          anomaly.Kind,
		"adjustment_id": anomaly.AdjustmentID,
		"reason":        anomaly.Detail,
	})
}

// Record сериализует payload и кладёт событие в outbox и timeline.
// Ключ "reason" попадает в timeline как причина.
func (r *Recorder) Record(orderID, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	occurred := r.now()
	payload["order_id"] = orderID
	payload["ts"] = occurred.Format(time.RFC3339Nano)

	fields := log.Fields{"order_id": orderID, "event": eventType}

	if r.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.logger.WithError(err).WithFields(fields).Error("marshal event failed")
			return
		}
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   orderID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := r.outbox.Enqueue(msg); err != nil {
			r.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else if r.metrics != nil {
			r.metrics.RecordOutboxEvent()
		}
	}

	if r.timeline != nil {
		reason, _ := payload["reason"].(string)
		event := domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := r.timeline.Append(event); err != nil {
			r.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else if r.metrics != nil {
			r.metrics.RecordTimelineEvent()
		}
	}
}

// Timeline возвращает историю заказа.
func (r *Recorder) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if r.timeline == nil {
		return nil, nil
	}
	return r.timeline.List(orderID)
}

var _ domain.AnomalyReporter = (*Recorder)(nil)
