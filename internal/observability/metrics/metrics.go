package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config carries the constant labels stamped on every engine metric.
type Config struct {
	ServiceName string
	Environment string
}

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonDB               = "db"
	JobReasonUnknown          = "unknown"
)

// EngineMetrics captures attribution engine health signals.
type EngineMetrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	matches         *prometheus.CounterVec
	matchConfidence prometheus.Histogram

	chunksProcessed *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobErrors       *prometheus.CounterVec

	reconciliationRuns  prometheus.Counter
	discrepancies       prometheus.Counter
	backfillsTriggered  prometheus.Counter
	mismatchesDetected  *prometheus.CounterVec
	mismatchesCorrected prometheus.Counter

	rateLimitAllowed *prometheus.CounterVec
	rateLimitDenied  *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the singleton engine metrics registry using config labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest resets the engine metrics singleton for tests.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "groundsignal"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_http_requests_total",
		Help:        "HTTP requests by route, method and status.",
		ConstLabels: constLabels,
	}, []string{"route", "method", "status"})
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "groundsignal_http_request_duration_seconds",
		Help:        "HTTP request latency by route.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"route"})

	matches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_attribution_matches_total",
		Help:        "Attribution matches by method.",
		ConstLabels: constLabels,
	}, []string{"method"})
	matchConfidence := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "groundsignal_attribution_match_confidence",
		Help:        "Confidence score distribution of attribution matches.",
		Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		ConstLabels: constLabels,
	})

	chunksProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_backfill_chunks_total",
		Help:        "Backfill chunks by terminal outcome.",
		ConstLabels: constLabels,
	}, []string{"status"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "groundsignal_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency to keep reconciliation freshness in view.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})

	reconciliationRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "groundsignal_reconciliation_runs_total",
		Help:        "Reconciliation audits executed.",
		ConstLabels: constLabels,
	})
	discrepancies := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "groundsignal_reconciliation_discrepancies_total",
		Help:        "Reconciliation runs that flagged a discrepancy.",
		ConstLabels: constLabels,
	})
	backfillsTriggered := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "groundsignal_reconciliation_backfills_triggered_total",
		Help:        "Backfill jobs started by the reconciliation auditor.",
		ConstLabels: constLabels,
	})
	mismatchesDetected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_mismatches_detected_total",
		Help:        "Attribution mismatches detected by field.",
		ConstLabels: constLabels,
	}, []string{"field"})
	mismatchesCorrected := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "groundsignal_mismatches_corrected_total",
		Help:        "Attribution mismatches corrected in place.",
		ConstLabels: constLabels,
	})

	rateLimitAllowed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_rate_limit_allowed_total",
		Help:        "Rate limiter allow decisions by endpoint.",
		ConstLabels: constLabels,
	}, []string{"endpoint"})
	rateLimitDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "groundsignal_rate_limit_denied_total",
		Help:        "Rate limiter deny decisions by endpoint and reason.",
		ConstLabels: constLabels,
	}, []string{"endpoint", "reason"})

	registerer.MustRegister(
		httpRequests,
		httpDuration,
		matches,
		matchConfidence,
		chunksProcessed,
		jobRuns,
		jobDuration,
		jobErrors,
		reconciliationRuns,
		discrepancies,
		backfillsTriggered,
		mismatchesDetected,
		mismatchesCorrected,
		rateLimitAllowed,
		rateLimitDenied,
	)

	return &EngineMetrics{
		httpRequests:        httpRequests,
		httpDuration:        httpDuration,
		matches:             matches,
		matchConfidence:     matchConfidence,
		chunksProcessed:     chunksProcessed,
		jobRuns:             jobRuns,
		jobDuration:         jobDuration,
		jobErrors:           jobErrors,
		reconciliationRuns:  reconciliationRuns,
		discrepancies:       discrepancies,
		backfillsTriggered:  backfillsTriggered,
		mismatchesDetected:  mismatchesDetected,
		mismatchesCorrected: mismatchesCorrected,
		rateLimitAllowed:    rateLimitAllowed,
		rateLimitDenied:     rateLimitDenied,
	}
}

// ObserveHTTPRequest records a completed HTTP request.
func (m *EngineMetrics) ObserveHTTPRequest(route, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordMatch records an attribution match outcome.
func (m *EngineMetrics) RecordMatch(method string, confidence float64) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(strings.TrimSpace(method)).Inc()
	m.matchConfidence.Observe(confidence)
}

// IncChunkProcessed increments the chunk counter for a terminal status.
func (m *EngineMetrics) IncChunkProcessed(status string) {
	if m == nil {
		return
	}
	m.chunksProcessed.WithLabelValues(strings.TrimSpace(status)).Inc()
}

// IncJobRun increments the run counter for a scheduler job.
func (m *EngineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *EngineMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobError increments the scheduler job error counter with classification.
func (m *EngineMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// IncReconciliationRun increments the reconciliation run counter.
func (m *EngineMetrics) IncReconciliationRun(discrepancy bool) {
	if m == nil {
		return
	}
	m.reconciliationRuns.Inc()
	if discrepancy {
		m.discrepancies.Inc()
	}
}

// IncBackfillTriggered increments the auditor-triggered backfill counter.
func (m *EngineMetrics) IncBackfillTriggered() {
	if m == nil {
		return
	}
	m.backfillsTriggered.Inc()
}

// IncMismatchDetected increments the mismatch counter for the given field.
func (m *EngineMetrics) IncMismatchDetected(field string) {
	if m == nil {
		return
	}
	m.mismatchesDetected.WithLabelValues(strings.TrimSpace(field)).Inc()
}

// IncMismatchCorrected increments the corrected mismatch counter.
func (m *EngineMetrics) IncMismatchCorrected() {
	if m == nil {
		return
	}
	m.mismatchesCorrected.Inc()
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *EngineMetrics) RecordRateLimitAllowed(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.WithLabelValues(strings.TrimSpace(endpoint)).Inc()
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *EngineMetrics) RecordRateLimitDenied(endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(strings.TrimSpace(endpoint), strings.TrimSpace(reason)).Inc()
}

// ClassifyJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if isDBError(err) {
		return JobReasonDB
	}
	return JobReasonUnknown
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	return errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey)
}
