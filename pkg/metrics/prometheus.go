// Package metrics provides Prometheus metrics for the rally prediction engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// defaultBrierBuckets cover the [0,1] range of the squared probability error.
var defaultBrierBuckets = []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.7, 0.9, 1} //nolint:gochecknoglobals // fixed bucket layout

// Manager manages all Prometheus metrics for the prediction engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	brierBuckets     []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Generation
	predictionsGenerated *prometheus.CounterVec
	generationLatency    prometheus.Histogram
	featuresCollected    prometheus.Histogram
	lookupFailures       *prometheus.CounterVec
	unknownCompetitor    prometheus.Counter
	breakerState         *prometheus.GaugeVec

	// Evaluation
	predictionsEvaluated *prometheus.CounterVec
	brierError           prometheus.Histogram
	outliers             prometheus.Counter
	retrainCandidates    prometheus.Counter
	evaluationErrors     *prometheus.CounterVec
	conclusionsDuplicate prometheus.Counter

	// Drift
	driftAccuracy *prometheus.GaugeVec
	driftBrier    *prometheus.GaugeVec
	driftDetected *prometheus.GaugeVec
	driftRuns     *prometheus.CounterVec

	// Store
	storeLatency      *prometheus.HistogramVec
	storedPredictions prometheus.Gauge
	awaitingOutcome   prometheus.Gauge

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rally",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		brierBuckets:     defaultBrierBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		// Series still record but are never exported.
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every series
	m.predictionsGenerated = m.counterVec("predictions_generated_total",
		"Total number of published predictions by scoring configuration", "config")
	m.generationLatency = m.histogram("generation_latency_milliseconds",
		"Latency of a full prediction generation in milliseconds", m.histogramBuckets)
	m.featuresCollected = m.histogram("features_collected",
		"Number of features present per prediction request",
		prometheus.LinearBuckets(0, 4, 8))
	m.lookupFailures = m.counterVec("feature_lookup_failures_total",
		"Feature provider lookups that degraded to omission", "provider", "reason")
	m.unknownCompetitor = m.counter("unknown_competitor_total",
		"Generation requests rejected because a competitor could not be resolved")
	m.breakerState = m.gaugeVec("provider_breaker_state",
		"Circuit breaker state per provider (0 closed, 1 half-open, 2 open)", "provider")

	m.predictionsEvaluated = m.counterVec("predictions_evaluated_total",
		"Total number of evaluated predictions", "config", "correct")
	m.brierError = m.histogram("brier_error",
		"Distribution of probabilistic (Brier) error at evaluation", m.brierBuckets)
	m.outliers = m.counter("outliers_total",
		"Evaluated predictions flagged as outliers")
	m.retrainCandidates = m.counter("retrain_candidates_total",
		"Evaluated predictions marked eligible for weight tuning")
	m.evaluationErrors = m.counterVec("evaluation_errors_total",
		"Evaluation failures by reason", "reason")
	m.conclusionsDuplicate = m.counter("conclusions_duplicate_total",
		"Contest-conclusion events dropped as duplicates")

	m.driftAccuracy = m.gaugeVec("drift_mean_accuracy",
		"Mean correctness of the last drift window", "config")
	m.driftBrier = m.gaugeVec("drift_mean_brier",
		"Mean probabilistic error of the last drift window", "config")
	m.driftDetected = m.gaugeVec("drift_detected",
		"1 when the last drift run flagged the configuration", "config")
	m.driftRuns = m.counterVec("drift_runs_total",
		"Drift computations by verdict", "config", "verdict")

	m.storeLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("store_latency_milliseconds"),
		Help:        "Prediction store operation latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"driver", "op"})

	m.storedPredictions = m.gauge("stored_predictions", "Prediction records in the store")
	m.awaitingOutcome = m.gauge("awaiting_outcome", "Published predictions whose contest should have concluded")

	m.queueSize = m.gauge("queue_size", "Current size of the conclusion queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the conclusion queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of enqueued conclusion events")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of dequeued conclusion events")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of rejected enqueues")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds",
		"Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of evaluation workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time spent evaluating a conclusion event in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Evaluation worker failures")

	m.httpRequests = m.counterVec("http_requests_total",
		"Operational HTTP requests", "endpoint", "method", "status")
	m.httpLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_request_duration_milliseconds"),
		Help:        "Operational HTTP request latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
}

// Generation.

// RecordPredictionGenerated counts a published prediction.
func RecordPredictionGenerated(configID string) {
	globalManager.predictionsGenerated.WithLabelValues(configID).Inc()
}

// RecordGenerationLatency records end-to-end generation latency.
func RecordGenerationLatency(latencyMs float64) {
	globalManager.generationLatency.Observe(latencyMs)
}

// RecordFeaturesCollected records how many features a request gathered.
func RecordFeaturesCollected(count int) {
	globalManager.featuresCollected.Observe(float64(count))
}

// RecordLookupFailure counts a provider lookup that was dropped from the feature set.
func RecordLookupFailure(provider, reason string) {
	globalManager.lookupFailures.WithLabelValues(provider, reason).Inc()
}

// RecordUnknownCompetitor counts a rejected generation request.
func RecordUnknownCompetitor() {
	globalManager.unknownCompetitor.Inc()
}

// UpdateBreakerState sets the breaker gauge for a provider.
func UpdateBreakerState(provider string, state int) {
	globalManager.breakerState.WithLabelValues(provider).Set(float64(state))
}

// Evaluation.

// RecordPredictionEvaluated counts an evaluated prediction.
func RecordPredictionEvaluated(configID string, correct bool) {
	label := "false"
	if correct {
		label = "true"
	}
	globalManager.predictionsEvaluated.WithLabelValues(configID, label).Inc()
}

// RecordBrierError observes the probabilistic error of an evaluation.
func RecordBrierError(brier float64) {
	globalManager.brierError.Observe(brier)
}

// RecordOutlier counts an outlier prediction.
func RecordOutlier() {
	globalManager.outliers.Inc()
}

// RecordRetrainCandidate counts a prediction handed to the retrain hook.
func RecordRetrainCandidate() {
	globalManager.retrainCandidates.Inc()
}

// RecordEvaluationError counts a failed evaluation.
func RecordEvaluationError(reason string) {
	globalManager.evaluationErrors.WithLabelValues(reason).Inc()
}

// RecordConclusionDuplicate counts a dropped duplicate conclusion event.
func RecordConclusionDuplicate() {
	globalManager.conclusionsDuplicate.Inc()
}

// Drift.

// RecordDriftRun publishes the outcome of a drift computation.
func RecordDriftRun(configID, verdict string, meanAccuracy, meanBrier float64, detected bool) {
	globalManager.driftRuns.WithLabelValues(configID, verdict).Inc()
	if verdict == "insufficient_data" {
		return
	}
	globalManager.driftAccuracy.WithLabelValues(configID).Set(meanAccuracy)
	globalManager.driftBrier.WithLabelValues(configID).Set(meanBrier)
	flag := 0.0
	if detected {
		flag = 1
	}
	globalManager.driftDetected.WithLabelValues(configID).Set(flag)
}

// Store.

// RecordStoreLatency records latency of a store operation.
func RecordStoreLatency(driver, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// UpdateStoreGauges sets the record and awaiting-outcome gauges.
func UpdateStoreGauges(stored, awaiting int) {
	globalManager.storedPredictions.Set(float64(stored))
	globalManager.awaitingOutcome.Set(float64(awaiting))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
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

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordHTTPRequest counts a served request and its latency.
func RecordHTTPRequest(endpoint, method, status string, latencyMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
	globalManager.httpLatency.WithLabelValues(endpoint, method).Observe(latencyMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RefreshInterval is how often background gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
