package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sigex_cycles_total", Help: "Executor cycles by outcome"},
		[]string{"outcome"}, // completed | skipped | failed
	)
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sigex_executions_total", Help: "Signal executions by venue and result"},
		[]string{"venue", "result"}, // success | duplicate | retry | failed
	)
	QuotaReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sigex_quota_reservations_total", Help: "Quota reservation attempts"},
		[]string{"result"}, // ok | exhausted | missing
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigex_cycle_duration_seconds",
			Help:    "Wall time of one executor cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, ExecutionsTotal, QuotaReservationsTotal, CycleDuration)
}

// Handler exposes the default registry; mounted beside /health.
func Handler() http.Handler {
	return promhttp.Handler()
}
