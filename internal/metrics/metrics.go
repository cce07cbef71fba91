package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeCompleted labels pipeline runs that reached DONE.
	OutcomeCompleted = "completed"
	// OutcomeFailed labels runs aborted by a stage failure.
	OutcomeFailed = "failed"
	// OutcomeCancelled labels runs aborted by context cancellation.
	OutcomeCancelled = "cancelled"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetguard",
			Name:      "pipeline_runs_total",
			Help:      "Total number of telemetry pipeline runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetguard",
			Name:      "pipeline_run_duration_seconds",
			Help:      "Pipeline run latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	activityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetguard",
			Name:      "activity_events_total",
			Help:      "Total activity events recorded in the ledger, partitioned by entity.",
		},
		[]string{"entity"},
	)

	anomalyFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetguard",
			Name:      "anomaly_findings_total",
			Help:      "Total anomaly findings, partitioned by kind and severity.",
		},
		[]string{"kind", "severity"},
	)

	ledgerSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetguard",
			Name:      "activity_ledger_size",
			Help:      "Number of activity events currently retained by the ledger.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests served, partitioned by route and status code.",
		},
		[]string{"route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds, partitioned by route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route"},
	)
)

// Register attaches fleetguard collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pipelineRunsTotal,
		pipelineRunDurationSeconds,
		activityEventsTotal,
		anomalyFindingsTotal,
		ledgerSize,
		httpRequestsTotal,
		httpRequestDurationSeconds,
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

// ObservePipelineRun records one run's duration and outcome label.
func ObservePipelineRun(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeFailed, OutcomeCancelled:
	default:
		outcome = OutcomeCompleted
	}
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineRunDurationSeconds.Observe(duration.Seconds())
}

// RecordActivityEvent counts one recorded ledger event.
func RecordActivityEvent(entity string) {
	activityEventsTotal.WithLabelValues(entity).Inc()
}

// RecordFinding counts one anomaly finding.
func RecordFinding(kind, severity string) {
	anomalyFindingsTotal.WithLabelValues(kind, severity).Inc()
}

// SetLedgerSize publishes the current ledger occupancy.
func SetLedgerSize(n int) {
	ledgerSize.Set(float64(n))
}

// ObserveHTTPRequest records one served request against its route pattern.
func ObserveHTTPRequest(route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	if duration < 0 {
		duration = 0
	}
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
