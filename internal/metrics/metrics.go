package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletcore"

// Metrics holds the service collectors on a private registry. All methods are safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	ledgerAppends        *prometheus.CounterVec
	withdrawalTransition *prometheus.CounterVec
	callbackEvents       *prometheus.CounterVec
	ledgerDrift          prometheus.Counter
	reconcileLastRun     prometheus.Gauge
	reconcileChecked     prometheus.Gauge
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

// New builds the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ledgerAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "appends_total",
				Help:      "Ledger append attempts partitioned by entry kind and result.",
			},
			[]string{"kind", "result"},
		),
		withdrawalTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawal",
				Name:      "transitions_total",
				Help:      "Withdrawal transitions partitioned by target status and result.",
			},
			[]string{"to", "result"},
		),
		callbackEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "callback",
				Name:      "events_total",
				Help:      "Payment callback events partitioned by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		ledgerDrift: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "drift_total",
				Help:      "Number of balance checks that found the cache disagreeing with the ledger.",
			},
		),
		reconcileLastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "last_run_unix",
				Help:      "Unix time of the most recent reconciliation sweep.",
			},
		),
		reconcileChecked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "last_run_accounts",
				Help:      "Accounts checked by the most recent reconciliation sweep.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests partitioned by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ledgerAppends,
		m.withdrawalTransition,
		m.callbackEvents,
		m.ledgerDrift,
		m.reconcileLastRun,
		m.reconcileChecked,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// LedgerAppend counts an append attempt.
func (m *Metrics) LedgerAppend(kind, result string) {
	if m == nil {
		return
	}
	m.ledgerAppends.WithLabelValues(kind, result).Inc()
}

// WithdrawalTransition counts a state machine transition attempt.
func (m *Metrics) WithdrawalTransition(to, result string) {
	if m == nil {
		return
	}
	m.withdrawalTransition.WithLabelValues(to, result).Inc()
}

// CallbackEvent counts a reconciled payment callback.
func (m *Metrics) CallbackEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.callbackEvents.WithLabelValues(kind, outcome).Inc()
}

// LedgerDrift counts a detected drift.
func (m *Metrics) LedgerDrift() {
	if m == nil {
		return
	}
	m.ledgerDrift.Inc()
}

// ReconcileRun records a completed sweep.
func (m *Metrics) ReconcileRun(at time.Time, accounts int) {
	if m == nil {
		return
	}
	m.reconcileLastRun.Set(float64(at.Unix()))
	m.reconcileChecked.Set(float64(accounts))
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
