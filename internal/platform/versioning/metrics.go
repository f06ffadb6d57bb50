package versioning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ilpi_versioned_mutations_total",
		Help: "Versioned entity mutations by entity type, change type and result",
	}, []string{"entity_type", "change_type", "result"})

	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ilpi_versioned_mutation_duration_seconds",
		Help:    "Duration of versioned mutations including the history write",
		Buckets: prometheus.DefBuckets,
	}, []string{"entity_type", "change_type"})
)
