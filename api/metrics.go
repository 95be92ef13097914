package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/despensa/till/ledger"
)

// Metrics collects Prometheus metrics for the till server.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	operations      *prometheus.CounterVec
	driftedBalances prometheus.Gauge
	consistencyRuns *prometheus.CounterVec
}

// NewMetrics initializes a registry with HTTP, ledger and runtime metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "till_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "till_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "till_ledger_operations_total",
		Help: "Ledger operations by name and result code.",
	}, []string{"operation", "result"})
	drifted := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "till_balance_drift_customers",
		Help: "Customers whose cached balance differed from the debt log at the last check.",
	})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "till_consistency_runs_total",
		Help: "Balance consistency checks by result.",
	}, []string{"result"})

	registry.MustRegister(
		requests, duration, operations, drifted, runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		operations:      operations,
		driftedBalances: drifted,
		consistencyRuns: runs,
	}
}

// Handler returns the http.Handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveOperation counts one ledger operation. A nil err is recorded as OK.
func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "OK"
	if err != nil {
		result = ledger.Code(err)
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// ObserveConsistency records the outcome of a balance check.
func (m *Metrics) ObserveConsistency(report ledger.ConsistencyReport, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.consistencyRuns.WithLabelValues("error").Inc()
		return
	case report.Consistent():
		m.consistencyRuns.WithLabelValues("consistent").Inc()
	default:
		m.consistencyRuns.WithLabelValues("drift").Inc()
	}
	m.driftedBalances.Set(float64(len(report.Drifts)))
}

// WatchHub exports the number of connected change-feed clients.
func (m *Metrics) WatchHub(hub *EventHub) {
	if m == nil || hub == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "till_sse_clients",
		Help: "Connected change-feed subscribers.",
	}, func() float64 { return float64(hub.ClientCount()) }))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach Flush on the wrapped writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
