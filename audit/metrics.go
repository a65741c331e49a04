package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mirrorDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_mirror_dropped_total",
			Help: "Audit entries that never reached the mirror sink.",
		},
		[]string{"sink"},
	)

	listenerFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_listener_failures_total",
			Help: "Order lifecycle events that could not be written to the audit log.",
		},
	)

	ingestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_ingested_total",
			Help: "Externally produced audit messages by outcome.",
		},
		[]string{"outcome"},
	)
)
