package deploy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	provisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nucypher_ops_provision_duration_seconds",
			Help:    "Time taken to provision a single cloud host",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	provisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nucypher_ops_provision_total",
			Help: "Total number of host provisioning attempts",
		},
		[]string{"provider", "status"}, // success or error
	)

	managedHosts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nucypher_ops_managed_hosts",
			Help: "Number of hosts recorded in the active namespace",
		},
		[]string{"network", "namespace"},
	)
)
