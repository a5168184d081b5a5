package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	// JobsScheduled is a counter for jobs scheduled.
	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcal_jobs_scheduled_total",
			Help: "The total number of jobs scheduled.",
		},
		[]string{"job_type"},
	)

	// JobsCompleted is a counter for jobs completed successfully.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcal_jobs_completed_total",
			Help: "The total number of jobs completed successfully.",
		},
		[]string{"job_type"},
	)

	// JobsFailed is a counter for jobs that exhausted their retries.
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcal_jobs_failed_total",
			Help: "The total number of jobs that failed.",
		},
		[]string{"job_type"},
	)

	// JobRetries is a counter for job retries.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcal_job_retries_total",
			Help: "The total number of times a job has been retried.",
		},
		[]string{"job_type"},
	)

	// JobDuration is a histogram of the time it takes to execute a job.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskcal_job_duration_seconds",
			Help:    "A histogram of the job execution duration.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"job_type"},
	)

	// JobsInFlight is a gauge that shows the number of currently running jobs.
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskcal_jobs_in_flight",
			Help: "The number of jobs currently being executed.",
		},
	)

	// SyncOperations counts calendar sync attempts.
	SyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcal_sync_operations_total",
			Help: "The total number of calendar sync attempts.",
		},
		[]string{"provider", "operation", "outcome"},
	)

	// TokenRefreshes counts access token refreshes against provider token endpoints.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcal_token_refreshes_total",
			Help: "The total number of OAuth access token refreshes.",
		},
		[]string{"provider", "outcome"},
	)

	// RemoteCallDuration is a histogram of calendar API call latency.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskcal_remote_call_duration_seconds",
			Help:    "A histogram of calendar API call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// ConnectedCalendars is the number of stored credentials per provider.
	ConnectedCalendars = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskcal_connected_calendars",
			Help: "The number of stored calendar credentials.",
		},
		[]string{"provider"},
	)

	// ActiveSessions is the number of live login sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskcal_active_sessions",
			Help: "The number of live login sessions.",
		},
	)
)

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
