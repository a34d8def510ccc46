package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moyuren",
			Name:      "fetch_attempts_total",
			Help:      "Endpoint fetch attempts by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "moyuren",
			Name:      "cache_hits_total",
			Help:      "Calendar requests served from the day cache",
		},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "moyuren",
			Name:      "cache_misses_total",
			Help:      "Calendar requests that needed a live fetch",
		},
	)

	staleFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "moyuren",
			Name:      "stale_fallbacks_total",
			Help:      "Requests served a prior day's image after all sources failed",
		},
	)

	scheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moyuren",
			Name:      "schedule_fires_total",
			Help:      "Daily schedule triggers per target",
		},
		[]string{"target"},
	)
)

func Init() {
	prometheus.MustRegister(fetchAttempts, cacheHits, cacheMisses, staleFallbacks, scheduleFires)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveFetch(endpoint, outcome string) {
	fetchAttempts.WithLabelValues(endpoint, outcome).Inc()
}

func IncCacheHit() {
	cacheHits.Inc()
}

func IncCacheMiss() {
	cacheMisses.Inc()
}

func IncStaleFallback() {
	staleFallbacks.Inc()
}

func IncScheduleFire(target string) {
	scheduleFires.WithLabelValues(target).Inc()
}
