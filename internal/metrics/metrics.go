// Package metrics owns the Prometheus registry for the server and the worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	pipelineTotal    *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	ledgerDrift *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "butik_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "butik_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		pipelineTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "butik_pipeline_runs_total",
			Help: "Fulfillment pipeline runs by operation and outcome.",
		}, []string{"operation", "outcome"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "butik_pipeline_duration_seconds",
			Help:    "Fulfillment pipeline latency including store retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "butik_jobs_total",
			Help: "Background job executions by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "butik_job_duration_seconds",
			Help:    "Background job latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		ledgerDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "butik_ledger_drift",
			Help: "Balance minus the sum of active ledger lines, as of the last reconcile.",
		}, []string{"field"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.pipelineTotal, m.pipelineDuration,
		m.jobRuns, m.jobDuration, m.ledgerDrift,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

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

// ObservePipeline records one engine call. outcome is "ok" or an error kind.
func (m *Metrics) ObservePipeline(operation string, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pipelineTotal.WithLabelValues(operation, outcome).Inc()
	m.pipelineDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) SetLedgerDrift(income float64, profit float64) {
	if m == nil {
		return
	}
	m.ledgerDrift.WithLabelValues("income").Set(income)
	m.ledgerDrift.WithLabelValues("profit").Set(profit)
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.jobRuns.WithLabelValues(t.job, status).Inc()
	t.metrics.jobDuration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
