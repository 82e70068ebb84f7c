// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family",
		Name:      "write_conflicts_total",
		Help:      "Rejected writes broken down by kind (version, lock).",
	}, []string{"kind"})

	undoOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family",
		Name:      "undo_total",
		Help:      "Undo attempts broken down by audited action and outcome code.",
	}, []string{"action", "outcome"})

	cascadeProfiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family",
		Name:      "cascade_profiles_total",
		Help:      "Profiles soft-deleted or restored by cascade operations.",
	}, []string{"op"})

	lineageCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family",
		Name:      "lineage_cache_total",
		Help:      "Lineage index events broken down by result (hit, miss, rebuild, invalidate, expire).",
	}, []string{"result"})

	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family",
		Name:      "search_requests_total",
		Help:      "Name-chain searches broken down by candidate backend.",
	}, []string{"backend"})

	suggestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family",
		Name:      "suggestions_total",
		Help:      "Edit suggestions broken down by outcome.",
	}, []string{"outcome"})
)

func WriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	writeConflicts.WithLabelValues(kind).Inc()
}

func Undo(action, outcome string) {
	undoOutcomes.WithLabelValues(action, outcome).Inc()
}

func Cascade(op string, n int) {
	if n <= 0 {
		return
	}
	cascadeProfiles.WithLabelValues(op).Add(float64(n))
}

func LineageCache(result string) {
	lineageCache.WithLabelValues(result).Inc()
}

func Search(backend string) {
	searchRequests.WithLabelValues(backend).Inc()
}

func Suggestion(outcome string) {
	suggestions.WithLabelValues(outcome).Inc()
}
