package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ratewatch_"

	resultSuccess = "success"
	resultError   = "error"
)

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = "skipped"
	ResultEmpty   = "empty"
)

var (
	registerOnce sync.Once

	cyclesTotal     *prometheus.CounterVec
	cycleLatency    *prometheus.HistogramVec
	fetchesTotal    *prometheus.CounterVec
	ratesStored     prometheus.Counter
	alertsEvaluated prometheus.Counter
	alertErrors     prometheus.Counter
	triggersFired   prometheus.Counter
	notifications   *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		cyclesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycles_total",
				Help: "Completed update cycles by job and result",
			},
			[]string{"job", "result"},
		)
		cycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_duration_seconds",
				Help:    "Update cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		)
		fetchesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "source_fetches_total",
				Help: "Rate source attempts by source and result",
			},
			[]string{"source", "result"},
		)
		ratesStored = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_snapshots_written_total",
				Help: "Rate snapshots inserted or amended",
			},
		)
		alertsEvaluated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_evaluated_total",
				Help: "Alerts evaluated",
			},
		)
		alertErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_errors_total",
				Help: "Alerts whose evaluation failed",
			},
		)
		triggersFired = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "triggers_fired_total",
				Help: "Triggers recorded after the cooldown check",
			},
		)
		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Notification deliveries by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			cyclesTotal,
			cycleLatency,
			fetchesTotal,
			ratesStored,
			alertsEvaluated,
			alertErrors,
			triggersFired,
			notifications,
		)
	})
}

// ObserveCycle records one cycle's outcome and duration.
func ObserveCycle(job, result string, duration time.Duration) {
	if job == "" {
		job = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if cyclesTotal != nil {
		cyclesTotal.WithLabelValues(job, result).Inc()
	}
	if cycleLatency != nil {
		cycleLatency.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// IncFetch counts one source attempt.
func IncFetch(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if fetchesTotal != nil {
		fetchesTotal.WithLabelValues(source, result).Inc()
	}
}

// AddRatesStored counts written snapshots.
func AddRatesStored(n int) {
	if n <= 0 {
		return
	}
	if ratesStored != nil {
		ratesStored.Add(float64(n))
	}
}

// IncAlertEvaluated counts one evaluated alert.
func IncAlertEvaluated() {
	if alertsEvaluated != nil {
		alertsEvaluated.Inc()
	}
}

// IncAlertError counts one failed alert evaluation.
func IncAlertError() {
	if alertErrors != nil {
		alertErrors.Inc()
	}
}

// IncTriggerFired counts one stored trigger.
func IncTriggerFired() {
	if triggersFired != nil {
		triggersFired.Inc()
	}
}

// IncNotification counts one delivery attempt.
func IncNotification(result string) {
	if result == "" {
		result = "unknown"
	}
	if notifications != nil {
		notifications.WithLabelValues(result).Inc()
	}
}
