package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds all Prometheus metric instruments for the workflow service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow lifecycle metrics
	WorkflowCreatesTotal     *prometheus.CounterVec
	WorkflowStartsTotal      *prometheus.CounterVec
	WorkflowAdvancesTotal    *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowResetsTotal      *prometheus.CounterVec
	WorkflowBackwardTotal    *prometheus.CounterVec
	WorkflowActiveInstances  *prometheus.GaugeVec

	// Maintenance metrics
	DuplicatesCleanedTotal prometheus.Counter

	// Directory metrics
	DirectoryRequestsTotal   *prometheus.CounterVec
	DirectoryRequestDuration *prometheus.HistogramVec

	// Cache metrics
	StatusCacheHitsTotal   prometheus.Counter
	StatusCacheMissesTotal prometheus.Counter

	// System metrics
	DefinitionsLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflow lifecycle
		WorkflowCreatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_workflow_creates_total",
			Help: "Total number of workflow instances created.",
		}, []string{"workflow_id"}),
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_workflow_starts_total",
			Help: "Total number of workflow starts.",
		}, []string{"workflow_id"}),
		WorkflowAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_workflow_advances_total",
			Help: "Total number of stage advances.",
		}, []string{"workflow_id", "stage_id"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_workflow_completions_total",
			Help: "Total number of workflow completions.",
		}, []string{"workflow_id"}),
		WorkflowResetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_workflow_resets_total",
			Help: "Total number of workflow resets.",
		}, []string{"workflow_id"}),
		WorkflowBackwardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_workflow_backward_total",
			Help: "Total number of backward transitions.",
		}, []string{"from_stage", "to_stage"}),
		WorkflowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docflow_workflow_active_instances",
			Help: "Number of active workflow instances.",
		}, []string{"workflow_id"}),

		// Maintenance
		DuplicatesCleanedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_workflow_duplicates_cleaned_total",
			Help: "Total number of duplicate instances removed by cleanup.",
		}),

		// Directory
		DirectoryRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_directory_requests_total",
			Help: "Total number of directory service requests.",
		}, []string{"service", "status"}),
		DirectoryRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_directory_request_duration_seconds",
			Help:    "Directory request duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"service"}),

		// Cache
		StatusCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_status_cache_hits_total",
			Help: "Total status cache hits.",
		}),
		StatusCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_status_cache_misses_total",
			Help: "Total status cache misses.",
		}),

		// System
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_definitions_loaded",
			Help: "Number of loaded workflow definitions.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WorkflowCreatesTotal,
		m.WorkflowStartsTotal,
		m.WorkflowAdvancesTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowResetsTotal,
		m.WorkflowBackwardTotal,
		m.WorkflowActiveInstances,
		m.DuplicatesCleanedTotal,
		m.DirectoryRequestsTotal,
		m.DirectoryRequestDuration,
		m.StatusCacheHitsTotal,
		m.StatusCacheMissesTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordWorkflowCreate records a new workflow instance.
func (m *Metrics) RecordWorkflowCreate(workflowID string) {
	m.WorkflowCreatesTotal.WithLabelValues(workflowID).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflowID).Inc()
}

// RecordWorkflowStart records a workflow start.
func (m *Metrics) RecordWorkflowStart(workflowID string) {
	m.WorkflowStartsTotal.WithLabelValues(workflowID).Inc()
}

// RecordWorkflowAdvance records a stage advance.
func (m *Metrics) RecordWorkflowAdvance(workflowID, stageID string) {
	m.WorkflowAdvancesTotal.WithLabelValues(workflowID, stageID).Inc()
}

// RecordWorkflowCompletion records a workflow completion.
func (m *Metrics) RecordWorkflowCompletion(workflowID string) {
	m.WorkflowCompletionsTotal.WithLabelValues(workflowID).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflowID).Dec()
}

// RecordWorkflowReset records a workflow reset.
func (m *Metrics) RecordWorkflowReset(workflowID string) {
	m.WorkflowResetsTotal.WithLabelValues(workflowID).Inc()
}

// RecordWorkflowBackward records a backward transition.
func (m *Metrics) RecordWorkflowBackward(fromStage, toStage string) {
	m.WorkflowBackwardTotal.WithLabelValues(fromStage, toStage).Inc()
}

// RecordDuplicatesCleaned records removed duplicate instances.
func (m *Metrics) RecordDuplicatesCleaned(count int) {
	m.DuplicatesCleanedTotal.Add(float64(count))
}

// RecordDirectoryRequest records a directory service request.
func (m *Metrics) RecordDirectoryRequest(service string, status int, duration time.Duration) {
	m.DirectoryRequestsTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
	m.DirectoryRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordStatusCacheHit records a status cache hit.
func (m *Metrics) RecordStatusCacheHit() {
	m.StatusCacheHitsTotal.Inc()
}

// RecordStatusCacheMiss records a status cache miss.
func (m *Metrics) RecordStatusCacheMiss() {
	m.StatusCacheMissesTotal.Inc()
}

// SetDefinitionsLoaded sets the number of loaded workflow definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
