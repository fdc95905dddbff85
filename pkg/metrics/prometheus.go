// Package metrics provides Prometheus metrics for the revroute ranking engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the ranking engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Routing
	routingDecisions *prometheus.CounterVec
	routingFailures  *prometheus.CounterVec
	routingLatency   *prometheus.HistogramVec
	operatorLatency  *prometheus.HistogramVec
	operatorFailures *prometheus.CounterVec
	candidates       prometheus.Histogram

	// Features
	featureResolutions *prometheus.CounterVec
	featureDeduped     prometheus.Counter

	// Caches
	cacheLookups     *prometheus.CounterVec
	cacheWrites      *prometheus.CounterVec
	cacheRejected    *prometheus.CounterVec
	llmCalls         *prometheus.CounterVec
	llmLatency       prometheus.Histogram

	// Evaluation
	runsStarted     *prometheus.CounterVec
	runsReused      prometheus.Counter
	contextFailures *prometheus.CounterVec
	horizonChecks   *prometheus.CounterVec
	backfillItems   *prometheus.CounterVec
	championChanges *prometheus.CounterVec

	// Queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueEnqueueRate        prometheus.Counter
	queueDequeueRate        prometheus.Counter
	queueEnqueueErrors      prometheus.Counter
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "revroute",
		subsystem:        "engine",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.routingDecisions = m.counterVec("routing_decisions_total", "Routing decisions produced, by task", "task")
	m.routingFailures = m.counterVec("routing_failures_total", "Routing calls that failed, by task and reason", "task", "reason")
	m.routingLatency = m.histogramVec("routing_latency_milliseconds", "End-to-end routing latency in milliseconds", "task")
	m.operatorLatency = m.histogramVec("operator_latency_milliseconds", "Operator scoring latency in milliseconds", "operator")
	m.operatorFailures = m.counterVec("operator_failures_total", "Operator invocations that failed, by operator and outcome", "operator", "outcome")
	m.candidates = m.histogram("candidates_per_decision", "Number of ranked candidates per decision",
		[]float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55})

	m.featureResolutions = m.counterVec("feature_resolutions_total", "Feature values computed, by feature key and outcome", "feature", "outcome")
	m.featureDeduped = m.counter("feature_deduplicated_total", "Feature lookups served from the per-context memo")

	m.cacheLookups = m.counterVec("cache_lookups_total", "Cache lookups by cache, artifact type and result", "cache", "artifact", "result")
	m.cacheWrites = m.counterVec("cache_writes_total", "Cache writes by cache and artifact type", "cache", "artifact")
	m.cacheRejected = m.counterVec("cache_rejected_total", "Artifacts rejected by schema validation", "artifact", "stage")
	m.llmCalls = m.counterVec("llm_calls_total", "Generation calls by model and outcome", "model", "outcome")
	m.llmLatency = m.histogram("llm_latency_milliseconds", "Generation call latency in milliseconds", m.histogramBuckets)

	m.runsStarted = m.counterVec("eval_runs_total", "Evaluation runs executed, by task", "task")
	m.runsReused = m.counter("eval_runs_reused_total", "Evaluation requests answered by an existing run")
	m.contextFailures = m.counterVec("eval_context_failures_total", "Per-context failures inside evaluation runs", "task")
	m.horizonChecks = m.counterVec("horizon_checks_total", "Cutoff horizon checks by status", "status")
	m.backfillItems = m.counterVec("backfill_items_total", "Backfill items by outcome", "outcome")
	m.championChanges = m.counterVec("champion_changes_total", "Registry mutations by task and action", "task", "action")

	m.queueSize = m.gauge("queue_size", "Current size of the job queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum job queue capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")
	m.workerCount = m.gauge("worker_count", "Current number of pool workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Number of workers currently running a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Job processing latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of failed jobs")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// RecordRoutingDecision counts a successful decision and its latency.
func RecordRoutingDecision(task string, candidates int, took time.Duration) {
	globalManager.routingDecisions.WithLabelValues(task).Inc()
	globalManager.routingLatency.WithLabelValues(task).Observe(ms(took))
	globalManager.candidates.Observe(float64(candidates))
}

// RecordRoutingFailure counts a failed routing call.
func RecordRoutingFailure(task, reason string) {
	globalManager.routingFailures.WithLabelValues(task, reason).Inc()
}

// RecordOperatorLatency observes one operator invocation.
func RecordOperatorLatency(operator string, took time.Duration) {
	globalManager.operatorLatency.WithLabelValues(operator).Observe(ms(took))
}

// RecordOperatorFailure counts an operator invocation that did not produce
// scores. Outcome is "error", "timeout" or "skipped".
func RecordOperatorFailure(operator, outcome string) {
	globalManager.operatorFailures.WithLabelValues(operator, outcome).Inc()
}

// RecordFeatureResolution counts a feature computation.
func RecordFeatureResolution(feature string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	globalManager.featureResolutions.WithLabelValues(feature, outcome).Inc()
}

// RecordFeatureDeduplicated counts a lookup served without recomputation.
func RecordFeatureDeduplicated() {
	globalManager.featureDeduped.Inc()
}

// RecordCacheLookup counts a cache read.
func RecordCacheLookup(cache, artifact string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.cacheLookups.WithLabelValues(cache, artifact, result).Inc()
}

// RecordCacheWrite counts a cache write.
func RecordCacheWrite(cache, artifact string) {
	globalManager.cacheWrites.WithLabelValues(cache, artifact).Inc()
}

// RecordCacheRejected counts an artifact that failed validation on
// "write" or "read".
func RecordCacheRejected(artifact, stage string) {
	globalManager.cacheRejected.WithLabelValues(artifact, stage).Inc()
}

// RecordLLMCall observes a generation call.
func RecordLLMCall(model string, ok bool, took time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	globalManager.llmCalls.WithLabelValues(model, outcome).Inc()
	globalManager.llmLatency.Observe(ms(took))
}

// RecordRun counts an executed evaluation run.
func RecordRun(task string) {
	globalManager.runsStarted.WithLabelValues(task).Inc()
}

// RecordRunReused counts a run request answered from the store.
func RecordRunReused() {
	globalManager.runsReused.Inc()
}

// RecordContextFailure counts a failed context inside a run.
func RecordContextFailure(task string) {
	globalManager.contextFailures.WithLabelValues(task).Inc()
}

// RecordHorizonCheck counts a horizon check by status.
func RecordHorizonCheck(status string) {
	globalManager.horizonChecks.WithLabelValues(status).Inc()
}

// RecordBackfill counts backfill items by outcome.
func RecordBackfill(outcome string, n int) {
	globalManager.backfillItems.WithLabelValues(outcome).Add(float64(n))
}

// RecordChampionChange counts a registry mutation.
func RecordChampionChange(task, action string) {
	globalManager.championChanges.WithLabelValues(task, action).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records job processing latency.
func RecordWorkerProcessingLatency(took time.Duration) {
	globalManager.workerProcessingLatency.Observe(ms(took))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, took time.Duration) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms(took))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
