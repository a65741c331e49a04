package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_published_total",
			Help: "Events accepted by the in-process bus, labeled by topic.",
		},
		[]string{"topic"},
	)

	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_dropped_total",
			Help: "Events dropped because the bus buffer was full, labeled by topic.",
		},
		[]string{"topic"},
	)

	handlerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_handler_failures_total",
			Help: "Subscriber invocations that returned an error or panicked.",
		},
		[]string{"topic", "subscriber"},
	)
)
