// Package metrics holds the Prometheus collectors for the fleet core.
// Everything is registered on the default registry and served by the
// /metrics endpoint in internal/api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_reservations_total",
		Help: "Reservation operations by op and outcome.",
	}, []string{"op", "outcome"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_node_status_transitions_total",
		Help: "Node lifecycle transitions by from/to status.",
	}, []string{"from", "to"})

	MaintenanceOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_maintenance_total",
		Help: "Maintenance mode entries and exits.",
	}, []string{"action"})

	Decommissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_decommissions_total",
		Help: "Nodes decommissioned.",
	})

	StaleNodesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_stale_nodes_detected_total",
		Help: "Online nodes transitioned Offline by the staleness sweep.",
	})

	HealthScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetd_node_health_score",
		Help:    "Distribution of computed node health scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_outbox_dispatched_total",
		Help: "Outbox events dispatched to NATS by outcome.",
	}, []string{"outcome"})
)

// Outcome labels for ReservationOps and OutboxDispatched.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)
