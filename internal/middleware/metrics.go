package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
)

// Metrics stores application metrics
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inProgress       prometheus.Gauge
	analysesTotal    *prometheus.CounterVec
	invocationErrors *prometheus.CounterVec
	threatsFound     *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, []string{"method", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Tracks the latencies for HTTP requests.",
			// analyses wait on the model, so the buckets go up to ~5 minutes
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"method"}),
		inProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "Number of HTTP requests being served.",
		}),
		analysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tmm_analyses_total",
			Help: "Analyses by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		invocationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tmm_model_invocation_errors_total",
			Help: "Failed model calls by reason.",
		}, []string{"reason"}),
		threatsFound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tmm_threats_total",
			Help: "Threats reported by the model per STRIDE category.",
		}, []string{"category"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inProgress.Inc()
		defer m.inProgress.Dec()
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(wrapped, r)

		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AnalysisSucceeded implements the analysis service recorder.
func (m *Metrics) AnalysisSucceeded(summaries []threatmodel.CategorySummary) {
	m.analysesTotal.WithLabelValues("success", "").Inc()
	for _, s := range summaries {
		m.threatsFound.WithLabelValues(string(s.Category)).Add(float64(s.Total))
	}
}

// AnalysisFailed implements the analysis service recorder.
func (m *Metrics) AnalysisFailed(stage string, err error) {
	m.analysesTotal.WithLabelValues("failure", stage).Inc()

	var ie *threatmodel.ModelInvocationError
	if errors.As(err, &ie) {
		m.invocationErrors.WithLabelValues(string(ie.Reason)).Inc()
	}
}
