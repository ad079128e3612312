// Package metrics exports Prometheus counters/gauges for the SLA engine,
// grounded directly on ai/metrics/prometheus.go's shape: a
// prometheus.Registry wrapped by a typed struct with CounterVec/GaugeVec
// fields and Record*/Set* methods (spec.md §4.9).
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the full set of recording methods PrometheusExporter
// provides. Each caller (ingestion, escalation, delivery, reconcile,
// classify) declares its own narrower Metrics interface holding a subset of
// these, so none of them imports this package.
type Collector interface {
	RecordIngested(classification string)
	RecordFAQHit()
	RecordAlertCreated(alertType string, level int)
	RecordDelivery(success bool)
	RecordReconcileSweep(totalPending, rescheduled, breached, alreadyActive, failed int)
	RecordClassifyCache(hit bool)
	SetBreakerState(state string)
}

// PrometheusExporter exports SLA-engine metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	ingested     *prometheus.CounterVec
	faqHits      prometheus.Counter
	alertsCreated *prometheus.CounterVec
	deliveries   *prometheus.CounterVec

	reconcilePending      prometheus.Gauge
	reconcileRescheduled  prometheus.Counter
	reconcileBreached     prometheus.Counter
	reconcileAlreadyActive prometheus.Counter
	reconcileFailed       prometheus.Counter

	classifyCacheHits   prometheus.Counter
	classifyCacheMisses prometheus.Counter
	breakerState        *prometheus.GaugeVec
}

// Config configures the exporter.
type Config struct {
	Registry *prometheus.Registry
}

// New constructs a PrometheusExporter, registering every metric on cfg's
// registry (or a fresh one if nil).
func New(cfg Config) *PrometheusExporter {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.ingested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "messages_ingested_total",
		Help:      "Total number of inbound messages classified, by classification",
	}, []string{"classification"})

	e.faqHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "faq_short_circuit_total",
		Help:      "Total number of messages answered by the FAQ short-circuit",
	})

	e.alertsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "alerts_created_total",
		Help:      "Total number of alerts created, by type and escalation level",
	}, []string{"alert_type", "level"})

	e.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "deliveries_total",
		Help:      "Total number of alert delivery attempts, by outcome",
	}, []string{"status"})

	e.reconcilePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "buhbot_sla",
		Name:      "reconcile_pending_requests",
		Help:      "Number of open requests examined in the most recent reconciliation sweep",
	})
	e.reconcileRescheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "reconcile_rescheduled_total",
		Help:      "Total number of timer jobs rescheduled by reconciliation sweeps",
	})
	e.reconcileBreached = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "reconcile_breached_total",
		Help:      "Total number of requests observed already past threshold during reconciliation",
	})
	e.reconcileAlreadyActive = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "reconcile_already_active_total",
		Help:      "Total number of requests found with every timer already scheduled",
	})
	e.reconcileFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "reconcile_failed_total",
		Help:      "Total number of requests that failed reconciliation",
	})

	e.classifyCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "classify_cache_hits_total",
		Help:      "Total number of classification cache hits (in-process or durable tier)",
	})
	e.classifyCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buhbot_sla",
		Name:      "classify_cache_misses_total",
		Help:      "Total number of classification cache misses",
	})
	e.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "buhbot_sla",
		Name:      "classify_circuit_breaker_state",
		Help:      "Current classifier circuit breaker state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	registry.MustRegister(
		e.ingested,
		e.faqHits,
		e.alertsCreated,
		e.deliveries,
		e.reconcilePending,
		e.reconcileRescheduled,
		e.reconcileBreached,
		e.reconcileAlreadyActive,
		e.reconcileFailed,
		e.classifyCacheHits,
		e.classifyCacheMisses,
		e.breakerState,
	)

	return e
}

// RecordIngested records a classified inbound message.
func (e *PrometheusExporter) RecordIngested(classification string) {
	e.ingested.WithLabelValues(classification).Inc()
}

// RecordFAQHit records a FAQ short-circuit match.
func (e *PrometheusExporter) RecordFAQHit() {
	e.faqHits.Inc()
}

// RecordAlertCreated records a newly created Alert.
func (e *PrometheusExporter) RecordAlertCreated(alertType string, level int) {
	e.alertsCreated.WithLabelValues(alertType, levelLabel(level)).Inc()
}

// RecordDelivery records the aggregate outcome of one delivery attempt.
func (e *PrometheusExporter) RecordDelivery(success bool) {
	status := "failed"
	if success {
		status = "delivered"
	}
	e.deliveries.WithLabelValues(status).Inc()
}

// RecordReconcileSweep records one reconciliation sweep's outcome counts.
func (e *PrometheusExporter) RecordReconcileSweep(totalPending, rescheduled, breached, alreadyActive, failed int) {
	e.reconcilePending.Set(float64(totalPending))
	e.reconcileRescheduled.Add(float64(rescheduled))
	e.reconcileBreached.Add(float64(breached))
	e.reconcileAlreadyActive.Add(float64(alreadyActive))
	e.reconcileFailed.Add(float64(failed))
}

// RecordClassifyCache records a classification cache lookup outcome.
func (e *PrometheusExporter) RecordClassifyCache(hit bool) {
	if hit {
		e.classifyCacheHits.Inc()
		return
	}
	e.classifyCacheMisses.Inc()
}

// SetBreakerState records the classifier circuit breaker's current state
// ("closed", "open", or "half-open"), zeroing every other known state so
// the gauge set always has exactly one active series.
func (e *PrometheusExporter) SetBreakerState(state string) {
	for _, s := range []string{"closed", "open", "half-open"} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		e.breakerState.WithLabelValues(s).Set(value)
	}
}

// Handler returns the HTTP handler serving /metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func levelLabel(level int) string {
	return strconv.Itoa(level)
}
