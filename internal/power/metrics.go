package power

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerd_transitions_total",
			Help: "Total power transitions spawned by command",
		},
		[]string{"command"},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "powerd_transition_phase_duration_seconds",
			Help:    "Time spent in each transition phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	killRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerd_kill_requests_total",
			Help: "Termination requests issued by record kind",
		},
		[]string{"kind"},
	)

	convergenceWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "powerd_termination_wait_seconds",
			Help:    "Time waiting for records of a kind to fully drain",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"kind"},
	)

	unmountAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerd_unmount_attempts_total",
			Help: "Unmount attempts during teardown sweeps by result",
		},
		[]string{"result"},
	)

	unmountPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powerd_unmount_sweep_passes_total",
		Help: "Snapshot passes performed by unmount sweeps",
	})

	mechanismAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerd_power_mechanism_attempts_total",
			Help: "Power mechanism attempts by mechanism, action and result",
		},
		[]string{"mechanism", "action", "result"},
	)
)

// recordMechanism records one dispatcher mechanism attempt.
func recordMechanism(mechanism, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	mechanismAttempts.WithLabelValues(mechanism, action, result).Inc()
}

// recordUnmount records one unmount attempt within a sweep pass.
func recordUnmount(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	unmountAttempts.WithLabelValues(result).Inc()
}
