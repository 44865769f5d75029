package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления заказа и пересчёта корректировок.
type CheckoutMetrics struct {
	// Переходы машины состояний и отказы guard-условий
	transitions     *prometheus.CounterVec
	guardRejections *prometheus.CounterVec

	// Конкурентный доступ
	mutationRetries prometheus.Counter
	lockFailures    prometheus.Counter

	// Пересчёт и данные
	recomputeDuration prometheus.Histogram
	anomalies         *prometheus.CounterVec
	stockRejections   prometheus.Counter

	gatewayResults *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewCheckoutMetrics регистрирует метрики в глобальном реестре.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном реестре (удобно для тестов).
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hubcart_checkout_transitions_total",
			Help: "Checkout state transitions by source and target state",
		}, []string{"from", "to"}),
		guardRejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hubcart_checkout_guard_rejections_total",
			Help: "Checkout transitions rejected by a guard condition",
		}, []string{"state"}),
		mutationRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hubcart_order_mutation_retries_total",
			Help: "Order mutations retried after a version conflict",
		}),
		lockFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hubcart_order_lock_failures_total",
			Help: "Order mutations that could not acquire the order lock",
		}),
		recomputeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "hubcart_adjustments_recompute_duration_seconds",
			Help:    "Duration of a full adjustment recomputation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		anomalies: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hubcart_order_anomalies_total",
			Help: "Data anomalies detected and repaired during recomputation",
		}, []string{"kind"}),
		stockRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hubcart_stock_rejections_total",
			Help: "Line item quantity changes rejected for insufficient stock",
		}),
		gatewayResults: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hubcart_payment_gateway_results_total",
			Help: "Payment gateway authorization outcomes",
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hubcart_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hubcart_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransition учитывает переход между шагами оформления.
func (m *CheckoutMetrics) RecordTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordGuardRejection учитывает отказ входа в шаг.
func (m *CheckoutMetrics) RecordGuardRejection(state string) {
	m.guardRejections.WithLabelValues(state).Inc()
}

// RecordMutationRetry учитывает повтор после конфликта версий.
func (m *CheckoutMetrics) RecordMutationRetry() {
	m.mutationRetries.Inc()
}

// RecordLockFailure учитывает неудачный захват блокировки заказа.
func (m *CheckoutMetrics) RecordLockFailure() {
	m.lockFailures.Inc()
}

// RecordRecomputeDuration записывает время пересчёта корректировок.
func (m *CheckoutMetrics) RecordRecomputeDuration(duration time.Duration) {
	m.recomputeDuration.Observe(duration.Seconds())
}

// RecordAnomaly учитывает обнаруженную аномалию данных.
func (m *CheckoutMetrics) RecordAnomaly(kind string) {
	m.anomalies.WithLabelValues(kind).Inc()
}

// RecordStockRejection учитывает отклонённое изменение количества.
func (m *CheckoutMetrics) RecordStockRejection() {
	m.stockRejections.Inc()
}

// RecordGatewayResult учитывает ответ платёжного шлюза: success, redirect, declined, unavailable.
func (m *CheckoutMetrics) RecordGatewayResult(result string) {
	m.gatewayResults.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
