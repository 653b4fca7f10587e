// Package metrics holds the Prometheus collectors shared by the engine, the lookup
// backends and the HTTP service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocascade_lookups_total",
		Help: "Field lookups by field and outcome (ok, empty, error, stale)",
	}, []string{"field", "outcome"})
	LookupDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocascade_lookup_duration_ms",
		Help:    "Field lookup duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"field"})
	PincodeResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocascade_pincode_resolutions_total",
		Help: "Pincode auto-fill runs by winning strategy and decision",
	}, []string{"strategy", "decision"})
	ReverseResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocascade_reverse_resolutions_total",
		Help: "Pincode to address back-fills by outcome (found, not_found, error, stale)",
	}, []string{"outcome"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocascade_cache_hits_total",
		Help: "Lookup cache hits by tier",
	}, []string{"tier"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocascade_cache_misses_total",
		Help: "Lookup cache misses by tier",
	}, []string{"tier"})
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocascade_http_requests_total",
		Help: "Lookup API requests by route and status class",
	}, []string{"route", "status"})
	SinkPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocascade_sink_publish_total",
		Help: "Location record change events published, by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(PincodeResolutionsTotal)
	prometheus.MustRegister(ReverseResolutionsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(SinkPublishTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
