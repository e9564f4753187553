package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	addsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membank_memory_adds_total",
		Help: "Memory add operations by namespace kind and outcome.",
	}, []string{"kind", "status"})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membank_memory_queries_total",
		Help: "Memory similarity queries by namespace kind.",
	}, []string{"kind"})
)
