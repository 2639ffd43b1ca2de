package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobDuration tracks routine execution time by kind and outcome.
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobs_run_duration_seconds",
		Help:    "Time taken to execute a job routine by kind and outcome",
		Buckets: []float64{0.05, 0.2, 1, 5, 30, 120, 600, 3600, 14400},
	}, []string{"kind", "outcome"}) // outcome: ok, err

	// jobRuns counts routine executions by kind and outcome.
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_run_total",
		Help: "Total number of executed job routines by kind and outcome",
	}, []string{"kind", "outcome"})

	// jobsClaimed counts rows claimed by this process.
	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_claimed_total",
		Help: "Total number of job rows claimed by this worker",
	})

	// jobsInFlight tracks currently executing routines.
	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobs_in_flight",
		Help: "Number of job routines currently executing",
	})

	// wakeNotifications counts received wake notifications.
	wakeNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_wake_notifications_total",
		Help: "Total number of wake notifications received",
	})

	// terminalWriteFailures counts best-effort terminal writes that failed,
	// leaving a row stuck in running.
	terminalWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_terminal_write_failures_total",
		Help: "Total number of failed terminal-state writes",
	})
)
