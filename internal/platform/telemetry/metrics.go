// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for
// the HTTP server and the generation pipeline.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planner"

// Generation outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeRejected  = "rejected"
)

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing, which keeps tests free of setup.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	activeRequests     prometheus.Gauge
	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	llmCalls           *prometheus.CounterVec
	llmDuration        *prometheus.HistogramVec
	analysisFallbacks  *prometheus.CounterVec
	tokensCharged      prometheus.Counter
	pdfRenders         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_active_requests",
			Help: "In-flight HTTP requests.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plan_generations_total",
			Help: "Plan generation attempts by outcome.",
		}, []string{"outcome"}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "plan_generation_duration_seconds",
			Help:    "Wall time of a full generation run.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300},
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_calls_total",
			Help: "Language model calls by step and result.",
		}, []string{"step", "result"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "llm_call_duration_seconds",
			Help:    "Language model call latency by step.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"step"}),
		analysisFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "analysis_fallbacks_total",
			Help: "Sub-analyses replaced by the fallback sentence.",
		}, []string{"analysis"}),
		tokensCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tokens_charged_total",
			Help: "Estimated tokens charged to company quotas.",
		}),
		pdfRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pdf_renders_total",
			Help: "PDF renders by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.activeRequests,
		m.generations, m.generationDuration,
		m.llmCalls, m.llmDuration, m.analysisFallbacks,
		m.tokensCharged, m.pdfRenders,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// PrometheusHandler serves the registry in the text exposition format.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// MetricsMiddleware records request counts and latency keyed by route
// pattern, not raw path.
func (m *Metrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			m.activeRequests.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) GenerationFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRejected {
		m.generationDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) LLMCall(step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.llmCalls.WithLabelValues(step, result).Inc()
	m.llmDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) AnalysisFallback(analysis string) {
	if m == nil {
		return
	}
	m.analysisFallbacks.WithLabelValues(analysis).Inc()
}

func (m *Metrics) TokensCharged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensCharged.Add(float64(n))
}

func (m *Metrics) PDFRendered(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.pdfRenders.WithLabelValues(result).Inc()
}
