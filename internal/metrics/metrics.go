package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that failed (storage or dependency issues).
	OutcomeError = "error"
	// OutcomeSkipped labels operations that degraded to an empty result.
	OutcomeSkipped = "skipped"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "readiness_engine",
			Name:      "operations_total",
			Help:      "Engine operations handled, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	operationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "readiness_engine",
			Name:      "operation_seconds",
			Help:      "Engine operation latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"operation"},
	)

	signalsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "readiness_engine",
			Name:      "weak_signals_detected_total",
			Help:      "Weak signals persisted, partitioned by signal type.",
		},
		[]string{"signal_type"},
	)

	categoryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "readiness_engine",
			Name:      "signal_category_failures_total",
			Help:      "Indicator categories skipped because fetching or evaluation failed.",
		},
		[]string{"signal_type"},
	)

	patternsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "readiness_engine",
			Name:      "oracle_patterns_detected_total",
			Help:      "Oracle patterns persisted, partitioned by archetype.",
		},
		[]string{"pattern_type"},
	)

	learningsExtractedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "readiness_engine",
			Name:      "learnings_extracted_total",
			Help:      "Playbook learnings persisted, partitioned by category.",
		},
		[]string{"category"},
	)

	textGenRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "readiness_engine",
			Name:      "textgen_requests_total",
			Help:      "Text-generation calls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	readinessScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "readiness_engine",
			Name:      "readiness_overall_score",
			Help:      "Distribution of computed overall readiness scores.",
			Buckets:   []float64{20, 40, 50, 60, 70, 75, 80, 90, 100},
		},
	)

	activityPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "readiness_engine",
			Name:      "activity_publish_failures_total",
			Help:      "Activity events persisted but not published to the event bus.",
		},
	)
)

// Register attaches readiness-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		operationsTotal,
		operationDurationSeconds,
		signalsDetectedTotal,
		categoryFailuresTotal,
		patternsDetectedTotal,
		learningsExtractedTotal,
		textGenRequestsTotal,
		readinessScore,
		activityPublishFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOperation records an operation duration and outcome label.
func ObserveOperation(operation string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeSkipped:
	default:
		outcome = OutcomeSuccess
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	operationDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// SignalDetected counts one persisted weak signal.
func SignalDetected(signalType string) {
	signalsDetectedTotal.WithLabelValues(signalType).Inc()
}

// CategoryFailed counts one skipped indicator category.
func CategoryFailed(signalType string) {
	categoryFailuresTotal.WithLabelValues(signalType).Inc()
}

// PatternDetected counts one persisted oracle pattern.
func PatternDetected(patternType string) {
	patternsDetectedTotal.WithLabelValues(patternType).Inc()
}

// LearningExtracted counts one persisted learning.
func LearningExtracted(category string) {
	learningsExtractedTotal.WithLabelValues(category).Inc()
}

// TextGenRequest counts one text-generation call.
func TextGenRequest(outcome string) {
	textGenRequestsTotal.WithLabelValues(outcome).Inc()
}

// ReadinessScored records one computed overall score.
func ReadinessScored(score int) {
	readinessScore.Observe(float64(score))
}

// ActivityPublishFailed counts one event-bus publish failure.
func ActivityPublishFailed() {
	activityPublishFailuresTotal.Inc()
}
