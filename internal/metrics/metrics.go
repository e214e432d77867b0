// Package metrics holds the Prometheus counters exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wellness"

var (
	GuidanceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guidance_requests_total",
			Help:      "Guidance requests by outcome (ok or fallback).",
		},
		[]string{"outcome"},
	)

	IllustrationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "illustration_failures_total",
			Help:      "Image generation calls that failed and were dropped.",
		},
	)

	SessionsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_archived_total",
			Help:      "Conversations archived as sessions.",
		},
	)

	StorageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Store operations that failed and were treated as empty or skipped.",
		},
		[]string{"op"},
	)
)
