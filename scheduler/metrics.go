package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "scheduler",
		Name:      "jobs_claimed_total",
	})

	JobChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "scheduler",
		Name:      "job_checks_total",
	}, []string{"result"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bridge",
		Subsystem: "scheduler",
		Name:      "active_jobs",
	})

	UnmonitorableJobs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "scheduler",
		Name:      "unmonitorable_jobs_total",
	})

	TickDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})
)
