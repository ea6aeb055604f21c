package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	provisioningRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployctl",
		Name:      "provisioning_runs_total",
		Help:      "Provisioning runs by outcome.",
	}, []string{"result"})

	phaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployctl",
		Name:      "provisioning_phase_failures_total",
		Help:      "Provisioning phase failures by phase.",
	}, []string{"phase"})

	lifecycleState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deployctl",
		Name:      "lifecycle_state",
		Help:      "Current lifecycle state as its enum ordinal.",
	})

	lifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployctl",
		Name:      "lifecycle_transitions_total",
		Help:      "Lifecycle transitions by destination state.",
	}, []string{"to"})
)
