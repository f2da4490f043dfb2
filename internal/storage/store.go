package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hostforge/fleetd/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrTxnConflict is returned when a transaction keeps colliding with
	// concurrent writers after bounded retries. Callers treat it as an
	// infrastructure failure, not a domain condition.
	ErrTxnConflict = errors.New("transaction conflict after retries")
)

// OutboxRecord is a domain event awaiting dispatch. Key orders records by
// append time so the dispatcher drains oldest-first.
type OutboxRecord struct {
	Key     string
	Subject string
	Payload []byte
}

// Tx is the unit of work handed to Update/View callbacks. All reads and
// writes inside one callback are serializable: the store detects write
// conflicts between concurrent transactions and retries the callback.
type Tx interface {
	GetNode(id string) (*models.Node, error)
	// PutNode persists the node, bumping its version and UpdatedAt.
	PutNode(n *models.Node) error
	// LookupNodeName resolves the per-tenant case-insensitive name index.
	LookupNodeName(tenantID, name string) (string, error)
	// IndexNodeName claims a name index entry; DeleteNodeName frees one.
	IndexNodeName(tenantID, name, nodeID string) error
	DeleteNodeName(tenantID, name string) error
	ListNodes(tenantID string) ([]*models.Node, error)

	GetReservation(id string) (*models.CapacityReservation, error)
	PutReservation(r *models.CapacityReservation) error
	// ReservationsForNode returns every reservation recorded against the
	// node, any state. The admission path filters for Active/Claimed.
	ReservationsForNode(nodeID string) ([]*models.CapacityReservation, error)
	// ExpiredActiveReservations returns up to limit Active reservations
	// whose expiry has passed at now.
	ExpiredActiveReservations(now time.Time, limit int) ([]*models.CapacityReservation, error)
	// StaleOnlineNodes returns up to limit Online nodes whose last
	// heartbeat is older than cutoff.
	StaleOnlineNodes(cutoff time.Time, limit int) ([]*models.Node, error)

	// AppendEvent writes a domain event to the outbox in this transaction,
	// so the event commits atomically with the state change it describes.
	AppendEvent(subject string, payload any) error
}

// Store is the persistence boundary. A single Badger-backed implementation
// exists; the interface keeps the services testable and the engine swappable.
type Store interface {
	// Update runs fn in a read-write serializable transaction, retrying a
	// bounded number of times on write conflict before ErrTxnConflict.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only snapshot transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// PendingEvents returns up to limit outbox records, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]OutboxRecord, error)
	// DeleteEvent removes a dispatched outbox record.
	DeleteEvent(ctx context.Context, key string) error

	Close() error
}
