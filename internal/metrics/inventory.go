// Package metrics holds the Prometheus collectors for the inventory core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Write results used as label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Inventory Prometheus metrics.
var (
	SearchRecomputationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "search_recomputations_total",
			Help:      "Total number of search result recomputations",
		},
	)

	SearchQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "search_queries_total",
			Help:      "Total number of debounced search queries applied",
		},
	)

	SearchSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inventory",
			Name:      "search_subscribers",
			Help:      "Number of attached search result subscribers",
		},
	)

	StoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "store_writes_total",
			Help:      "Total number of item store writes",
		},
		[]string{"op", "result"},
	)

	MutationSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "mutation_skipped_total",
			Help:      "Quantity mutations skipped because stock did not allow them",
		},
		[]string{"op"},
	)
)

// ObserveWrite records the outcome of a store write.
func ObserveWrite(op string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	StoreWritesTotal.WithLabelValues(op, result).Inc()
}
