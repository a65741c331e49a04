package activity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_source_failures_total",
			Help: "Feed source fetches that failed, timed out or panicked.",
		},
		[]string{"source"},
	)

	sourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_source_duration_seconds",
			Help:    "Latency of individual feed source fetches.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"source"},
	)
)
