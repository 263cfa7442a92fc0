package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type reconcileMetrics struct {
	passes   *prometheus.CounterVec
	actions  *prometheus.CounterVec
	duration prometheus.Histogram
}

func initReconcileMetrics(reg prometheus.Registerer) *reconcileMetrics {
	factory := promauto.With(reg)
	return &reconcileMetrics{
		passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "therockqc_reconcile_passes_total",
				Help: "reconciliation passes by outcome",
			},
			[]string{"outcome"},
		),
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "therockqc_reconcile_actions_total",
				Help: "actions replayed by reconciliation, by kind",
			},
			[]string{"kind"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "therockqc_reconcile_duration_seconds",
				Help:    "wall time of completed reconciliation passes",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
	}
}
