package models

import "time"

// ReservationState is the lifecycle state of a capacity reservation.
// Claimed, Released and Expired are terminal sinks; a reservation records
// exactly one terminal transition and is never reused afterwards.
type ReservationState string

const (
	ReservationActive   ReservationState = "active"
	ReservationClaimed  ReservationState = "claimed"
	ReservationReleased ReservationState = "released"
	ReservationExpired  ReservationState = "expired"
)

// ReasonNodeDecommissioned is recorded on reservations released because
// their node left the fleet.
const ReasonNodeDecommissioned = "node_decommissioned"

// CapacityReservation is a time-bounded hold on a node's spare capacity.
// The ID doubles as the reservation token handed to the caller.
type CapacityReservation struct {
	ID        string           `json:"id"`
	NodeID    string           `json:"node_id"`
	Requested Resources        `json:"requested"`
	State     ReservationState `json:"state"`

	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TerminalAt time.Time `json:"terminal_at,omitzero"`

	// TerminalReason is set on release ("caller_released",
	// "node_decommissioned", ...); empty for claims and expiry.
	TerminalReason string `json:"terminal_reason,omitempty"`
}

// Terminal reports whether the reservation has reached a sink state.
func (r *CapacityReservation) Terminal() bool {
	return r.State != ReservationActive
}

// ExpiredBy reports whether the reservation's TTL has elapsed at now.
// Evaluated live at claim time, independent of the expiry sweep.
func (r *CapacityReservation) ExpiredBy(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
