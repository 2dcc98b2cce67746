package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters and histograms a Searcher reports during
// retrieval.
type Metrics struct {
	SearchQueries   prometheus.Counter
	SearchErrors    prometheus.Counter
	SearchLatency   prometheus.Histogram
	CellFetches     prometheus.Counter
	CellFetchErrors prometheus.Counter
	DedupDrops      prometheus.Counter
}

// NewMetrics constructs a fresh Metrics instance, registering its
// collectors with the default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lopq_search_queries_total",
			Help: "Total number of search and search_in calls.",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lopq_search_errors_total",
			Help: "Total number of searches that returned an error.",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "lopq_search_latency_seconds",
			Help: "Latency of a single search or search_in call.",
		}),
		CellFetches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lopq_cell_fetches_total",
			Help: "Total number of cell-fetch attempts on cache misses, including attempts rejected by the circuit breaker.",
		}),
		CellFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lopq_cell_fetch_errors_total",
			Help: "Total number of cell-fetch attempts that failed, in the collaborator or by circuit breaker rejection.",
		}),
		DedupDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lopq_dedup_drops_total",
			Help: "Total number of candidates dropped by deduplication.",
		}),
	}
}
