// Package metrics exposes pool, admission, generation and HTTP metrics in
// Prometheus format. Each Metrics owns its registry; nothing is
// registered globally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"birthday_bot/devicepool"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "birthday_bot"

// StatusSource is anything reporting a pool status.
type StatusSource interface {
	Status() devicepool.Status
}

type Metrics struct {
	registry *prometheus.Registry
	pools    *poolCollector

	generations    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	acquireWait    *prometheus.HistogramVec
	rejections     prometheus.Counter
	transcriptions *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	httpInflight   prometheus.Gauge
	gpuUtilization *prometheus.GaugeVec
	gpuMemoryUsed  *prometheus.GaugeVec
	gpuMemoryTotal *prometheus.GaugeVec
	gpuTemperature *prometheus.GaugeVec
}

// New builds the collectors and registers pools with the pool collector.
// Go runtime and process collectors are included.
func New(pools ...StatusSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation requests by outcome",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60, 120, 300},
		}, []string{"stage"}),
		acquireWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time callers waited for a device lease",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"pool"}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "rejections_total",
			Help:      "Requests rejected because all devices were busy",
		}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription requests by outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		}),
		gpuUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gpu",
			Name:      "utilization_percent",
			Help:      "GPU utilization reported by nvidia-smi",
		}, []string{"device"}),
		gpuMemoryUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gpu",
			Name:      "memory_used_bytes",
			Help:      "GPU memory in use",
		}, []string{"device"}),
		gpuMemoryTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gpu",
			Name:      "memory_total_bytes",
			Help:      "GPU memory installed",
		}, []string{"device"}),
		gpuTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gpu",
			Name:      "temperature_celsius",
			Help:      "GPU temperature",
		}, []string{"device"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.generations, m.stageDuration, m.rejections, m.transcriptions,
		m.httpRequests, m.httpDuration, m.httpInflight,
		m.gpuUtilization, m.gpuMemoryUsed, m.gpuMemoryTotal, m.gpuTemperature,
		m.acquireWait,
	)
	m.pools = newPoolCollector(pools)
	m.registry.MustRegister(m.pools)
	return m
}

// WatchPools adds pools to the pool collector.
func (m *Metrics) WatchPools(pools ...StatusSource) {
	m.pools.add(pools...)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStage records a pipeline stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveWait records how long a caller waited for a lease on pool.
func (m *Metrics) ObserveWait(pool string, d time.Duration) {
	m.acquireWait.WithLabelValues(pool).Observe(d.Seconds())
}

// ObserveOutcome counts one generation request.
func (m *Metrics) ObserveOutcome(outcome string) {
	m.generations.WithLabelValues(outcome).Inc()
}

// ObserveTranscription counts one transcription request.
func (m *Metrics) ObserveTranscription(outcome string) {
	m.transcriptions.WithLabelValues(outcome).Inc()
}

// ObserveRejection matches admission's reject hook signature.
func (m *Metrics) ObserveRejection(backlog int) {
	m.rejections.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments requests. Paths are labelled by chi route
// pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInflight.Inc()
		next.ServeHTTP(sr, r)
		m.httpInflight.Dec()

		path := routePatternOrPath(r)
		status := strconv.Itoa(sr.status)
		m.httpRequests.WithLabelValues(path, r.Method, status).Inc()
		m.httpDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
