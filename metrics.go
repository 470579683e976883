package zkgroup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors register against the default registry; hosts expose them
// however they expose the rest of their Prometheus surface.
var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkgroup",
			Subsystem: "guardian",
			Name:      "lookups_total",
			Help:      "Lookup requests by outcome",
		},
		[]string{"service", "outcome"},
	)

	initAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkgroup",
			Subsystem: "guardian",
			Name:      "init_attempts_total",
			Help:      "Coordination client initialization attempts",
		},
		[]string{"service"},
	)

	recoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkgroup",
			Subsystem: "guardian",
			Name:      "recoveries_total",
			Help:      "Steady-state recovery attempts after refresh failures",
		},
		[]string{"service"},
	)

	membershipSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zkgroup",
			Subsystem: "client",
			Name:      "membership_size",
			Help:      "Members in the last fetched snapshot",
		},
		[]string{"service"},
	)

	watchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zkgroup",
			Subsystem: "client",
			Name:      "watch_events_total",
			Help:      "Children watch firings observed",
		},
		[]string{"service"},
	)
)

const (
	outcomeOK       = "ok"
	outcomeEmpty    = "empty"
	outcomeDropped  = "dropped"
	outcomeMismatch = "mismatch"
)
