package effect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// dispatchMetrics holds Prometheus metrics for effect delivery.
type dispatchMetrics struct {
	dispatched *prometheus.CounterVec
	attempts   prometheus.Counter
	abandoned  prometheus.Counter
}

// initDispatchMetrics registers the metrics on reg. A nil registerer yields
// working but unregistered metrics.
func initDispatchMetrics(reg prometheus.Registerer) *dispatchMetrics {
	factory := promauto.With(reg)
	return &dispatchMetrics{
		dispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "therockqc_effects_dispatched_total",
				Help: "effects finished by the dispatcher, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		attempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "therockqc_effect_send_attempts_total",
				Help: "outbound send attempts, including retries",
			},
		),
		abandoned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "therockqc_effects_abandoned_total",
				Help: "effects found mid-send after a restart and dropped",
			},
		),
	}
}
