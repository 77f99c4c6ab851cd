package proc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registeredRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "powerd_proc_records",
			Help: "Directory records currently registered, by kind.",
		},
		[]string{"kind"},
	)

	reapsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "powerd_proc_reaps_total",
			Help: "Total records reaped from dying to dead.",
		},
	)

	escalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "powerd_proc_kill_escalations_total",
			Help: "Total SIGKILL escalations after an unheeded SIGTERM.",
		},
	)
)
