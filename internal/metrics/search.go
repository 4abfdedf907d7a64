package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search pipeline Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfsearch",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"status"}, // "ok" / "degraded" / "error"
	)

	SearchStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shelfsearch",
			Name:      "search_stage_duration_seconds",
			Help:      "Per-stage search pipeline duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"stage"}, // "lexical" / "vector" / "fusion" / "mmr"
	)

	SearchInconsistentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shelfsearch",
			Name:      "search_inconsistent_candidates_total",
			Help:      "Candidates dropped because the product vanished from the document store",
		},
	)

	CatalogProducts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelfsearch",
			Name:      "catalog_products",
			Help:      "Products currently indexed",
		},
	)

	CatalogVectorless = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelfsearch",
			Name:      "catalog_products_without_embedding",
			Help:      "Products retrievable only lexically or by attribute filter",
		},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers search pipeline metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchStageDuration)
	prometheus.MustRegister(SearchInconsistentTotal)
	prometheus.MustRegister(CatalogProducts)
	prometheus.MustRegister(CatalogVectorless)
	searchMetricsRegistered = true
}
