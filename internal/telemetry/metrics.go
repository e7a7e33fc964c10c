package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "opsboard_transitions_total", Help: "Successful status transitions"})
	GateRejects       = prometheus.NewCounter(prometheus.CounterOpts{Name: "opsboard_gate_rejections_total", Help: "Transitions rejected by TBP/QA gates"})
	AuditAppends      = prometheus.NewCounter(prometheus.CounterOpts{Name: "opsboard_audit_appends_total", Help: "Audit rows written"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "opsboard_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	StatsCacheHits    = prometheus.NewCounter(prometheus.CounterOpts{Name: "opsboard_stats_cache_hits_total", Help: "Stats responses served from cache"})
	StatsCacheMisses  = prometheus.NewCounter(prometheus.CounterOpts{Name: "opsboard_stats_cache_misses_total", Help: "Stats responses recomputed"})
	OpenItemsGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "opsboard_open_items", Help: "Work items not yet done"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionCounter,
			GateRejects,
			AuditAppends,
			RateLimitRejects,
			StatsCacheHits,
			StatsCacheMisses,
			OpenItemsGauge,
		)
	})
	return promhttp.Handler()
}
