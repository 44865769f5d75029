package metrics

import "github.com/prometheus/client_golang/prometheus"

// IdempotencyMetrics — метрики обслуживания таблицы idempotency-ключей.
type IdempotencyMetrics struct {
	runs        *prometheus.CounterVec
	removed     *prometheus.CounterVec
	lastRemoved prometheus.Gauge
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return NewIdempotencyMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewIdempotencyMetricsWithRegisterer(registerer prometheus.Registerer) *IdempotencyMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &IdempotencyMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hubcart_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs by result",
		}, []string{"result"}),
		removed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hubcart_idempotency_cleanup_removed_total",
			Help: "Idempotency keys removed by reason (expired, stale)",
		}, []string{"reason"}),
		lastRemoved: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "hubcart_idempotency_cleanup_last_removed",
			Help: "Keys removed during the last cleanup run",
		}),
	}
}

// RecordRun учитывает завершённый цикл: ok или error.
func (m *IdempotencyMetrics) RecordRun(result string, removed int) {
	m.runs.WithLabelValues(result).Inc()
	if result == "ok" {
		m.lastRemoved.Set(float64(removed))
	}
}

// RecordRemoved учитывает удалённые ключи с причиной.
func (m *IdempotencyMetrics) RecordRemoved(reason string, n int) {
	if n > 0 {
		m.removed.WithLabelValues(reason).Add(float64(n))
	}
}
