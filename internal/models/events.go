package models

import "time"

// Event subjects published on NATS. Consumers are expected to be
// idempotent; delivery is at-least-once via the outbox.
const (
	SubjectReservationExpired = "fleet.reservation.expired"
	SubjectNodeDegraded       = "fleet.node.degraded"
	SubjectCapacityReleased   = "fleet.capacity.released"
	SubjectNodeStatus         = "fleet.node.status"
)

// ReservationExpiredEvent is emitted for each reservation the expiry sweep
// transitions to Expired.
type ReservationExpiredEvent struct {
	NodeID    string    `json:"node_id"`
	Token     string    `json:"token"`
	ExpiredAt time.Time `json:"expired_at"`
}

// NodeDegradedEvent is emitted when a node's health category crosses into
// Degraded or Critical. Issues names the offending dimensions.
type NodeDegradedEvent struct {
	NodeID    string         `json:"node_id"`
	Timestamp time.Time      `json:"timestamp"`
	Category  HealthCategory `json:"category"`
	Score     int            `json:"score"`
	Issues    []string       `json:"issues"`
}

// CapacityReleasedEvent is emitted whenever held or committed capacity is
// returned to a node's spare pool.
type CapacityReleasedEvent struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// NodeStatusEvent records a lifecycle transition.
type NodeStatusEvent struct {
	NodeID    string     `json:"node_id"`
	From      NodeStatus `json:"from"`
	To        NodeStatus `json:"to"`
	Timestamp time.Time  `json:"timestamp"`
}
