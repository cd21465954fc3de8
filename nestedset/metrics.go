package nestedset

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var nodesAttached = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nestedset_nodes_attached_total",
	Help: "Number of attach operations, by outcome.",
}, []string{"outcome"})

var nodesDetached = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nestedset_nodes_detached_total",
	Help: "Number of detach operations, by outcome.",
}, []string{"outcome"})

var boundsShifted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nestedset_bounds_shifted_total",
	Help: "Number of boundary values moved by bulk shifts, by operation.",
}, []string{"op"})

var nodesRenumbered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nestedset_nodes_renumbered_total",
	Help: "Number of nodes renumbered by tree rebuilds.",
})

var nodeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nestedset_node_cache_hits_total",
	Help: "Number of node cache hits.",
})

var nodeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nestedset_node_cache_misses_total",
	Help: "Number of node cache misses.",
})
