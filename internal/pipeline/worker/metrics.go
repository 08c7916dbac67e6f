// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipforge_jobs_claimed_total",
			Help: "Total jobs claimed by the worker pool.",
		},
	)

	jobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipforge_jobs_completed_total",
			Help: "Job completions by outcome and reason.",
		},
		[]string{"outcome", "reason"}, // outcome: succeeded, retrying, failed
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipforge_job_duration_seconds",
			Help:    "Wall-clock time from claim to completion.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	activeSlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipforge_worker_active_slots",
			Help: "Worker slots currently executing a job.",
		},
	)

	heartbeatLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipforge_heartbeat_lost_total",
			Help: "Claims lost mid-run to crash recovery.",
		},
	)

	sweeperRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipforge_sweeper_requeued_total",
			Help: "Stale running jobs requeued by the sweeper.",
		},
	)

	sweeperFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipforge_sweeper_failed_total",
			Help: "Repeatedly stale jobs the sweeper marked failed or retrying.",
		},
	)
)
