package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_attempts_total",
		Help: "Product tracking attempts by store and outcome.",
	}, []string{"store", "outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_notifications_total",
		Help: "Notifications raised by kind (target, drop).",
	}, []string{"kind"})

	FleetRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_fleet_runs_total",
		Help: "Fleet runs by final status.",
	}, []string{"status"})

	FleetRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_fleet_run_duration_seconds",
		Help:    "Wall time of completed fleet runs.",
		Buckets: []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200},
	})

	SessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_session_failures_total",
		Help: "Browser sessions that could not be created, by store.",
	}, []string{"store"})
)
