package solver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region metrics
var (
	// constraintApplySeconds tracks Apply latency per constraint kind
	constraintApplySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ddecal_constraint_apply_seconds",
		Help:    "Constraint Apply duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	}, []string{"constraint"})

	// solverIterations counts completed outer iterations
	solverIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ddecal_solver_iterations",
		Help: "Total completed solver iterations",
	})

	// solverDiverged counts solves aborted by the health check
	solverDiverged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ddecal_solver_diverged_total",
		Help: "Total solves aborted because solutions diverged",
	})
)

// #endregion metrics
