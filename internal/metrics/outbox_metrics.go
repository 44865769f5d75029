package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics — метрики публикации событий заказа из transactional outbox.
type OutboxMetrics struct {
	publishAttempts *prometheus.CounterVec
	pending         prometheus.Gauge
	failed          prometheus.Gauge
	oldestAge       prometheus.Gauge
	deferred        prometheus.Counter
}

// NewOutboxMetrics регистрирует метрики в глобальном реестре.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hubcart_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by result and event type",
		}, []string{"result", "event_type"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "hubcart_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		}),
		failed: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "hubcart_outbox_failed_records",
			Help: "Outbox records that were never delivered to the main topic",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "hubcart_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record",
		}),
		deferred: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hubcart_outbox_deferred_total",
			Help: "Outbox records left pending because an earlier event of the same order failed",
		}),
	}
}

// RecordPublish учитывает попытку: sent, retry_error, failed, dlq, dlq_failed.
func (m *OutboxMetrics) RecordPublish(result, eventType string) {
	m.publishAttempts.WithLabelValues(result, eventType).Inc()
}

// RecordDeferred учитывает событие, отложенное до следующего цикла.
func (m *OutboxMetrics) RecordDeferred() {
	m.deferred.Inc()
}

// SetBacklog обновляет размер backlog, число failed и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending, failed int, oldestAge time.Duration) {
	m.pending.Set(float64(pending))
	m.failed.Set(float64(failed))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestAge.Set(oldestAge.Seconds())
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}
