package ansible

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	playbookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nucypher_ops_playbook_duration_seconds",
			Help:    "Time taken by ansible-playbook runs",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"playbook"},
	)

	playbookRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nucypher_ops_playbook_runs_total",
			Help: "Total number of ansible-playbook runs",
		},
		[]string{"playbook", "status"}, // started, success or failed
	)
)
