// Package registry owns node records: identity, capacity totals, lifecycle
// status and health fields. Every other service mutates nodes through the
// same store transactions this package uses.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/fault"
	"github.com/hostforge/fleetd/internal/metrics"
	"github.com/hostforge/fleetd/internal/models"
	"github.com/hostforge/fleetd/internal/storage"
)

type Registry struct {
	store storage.Store
	log   *zap.Logger
}

func New(store storage.Store, log *zap.Logger) *Registry {
	return &Registry{store: store, log: log}
}

// CreateParams carries the enrollment data for a new node. Capacity figures
// come from the enrollment collaborator and are trusted as given.
type CreateParams struct {
	TenantID string
	Name     string
	Platform string
	Capacity models.Resources
}

// Create registers a node in status Created. Names are unique per tenant,
// case-insensitively.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*models.Node, error) {
	if p.TenantID == "" || p.Name == "" {
		return nil, fmt.Errorf("tenant and name required")
	}
	now := time.Now().UTC()
	n := &models.Node{
		ID:        uuid.NewString(),
		TenantID:  p.TenantID,
		Name:      p.Name,
		Platform:  p.Platform,
		Capacity:  p.Capacity,
		Status:    models.NodeCreated,
		CreatedAt: now,
	}
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.LookupNodeName(p.TenantID, p.Name); err == nil {
			return fault.Conflict(fault.CodeNameAlreadyExists, "node name %q already exists in tenant %s", p.Name, p.TenantID)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.IndexNodeName(p.TenantID, p.Name, n.ID); err != nil {
			return err
		}
		return tx.PutNode(n)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("node created",
		zap.String("node_id", n.ID),
		zap.String("tenant_id", n.TenantID),
		zap.String("name", n.Name))
	return n, nil
}

// Rename changes a node's display name, keeping the per-tenant uniqueness
// index consistent.
func (r *Registry) Rename(ctx context.Context, nodeID, name string) (*models.Node, error) {
	if name == "" {
		return nil, fmt.Errorf("name required")
	}
	var out *models.Node
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		n, err := getNode(tx, nodeID)
		if err != nil {
			return err
		}
		if n.Status == models.NodeDecommissioned {
			return fault.Precondition(fault.CodeNodeDecommissioned, "node %s is decommissioned", nodeID)
		}
		if models.NormalizeName(name) == models.NormalizeName(n.Name) {
			out = n
			return nil
		}
		if ownerID, err := tx.LookupNodeName(n.TenantID, name); err == nil && ownerID != n.ID {
			return fault.Conflict(fault.CodeNameAlreadyExists, "node name %q already exists in tenant %s", name, n.TenantID)
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.DeleteNodeName(n.TenantID, n.Name); err != nil {
			return err
		}
		if err := tx.IndexNodeName(n.TenantID, name, n.ID); err != nil {
			return err
		}
		n.Name = name
		out = n
		return tx.PutNode(n)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, nodeID string) (*models.Node, error) {
	var out *models.Node
	err := r.store.View(ctx, func(tx storage.Tx) error {
		n, err := getNode(tx, nodeID)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

func (r *Registry) List(ctx context.Context, tenantID string) ([]*models.Node, error) {
	var out []*models.Node
	err := r.store.View(ctx, func(tx storage.Tx) error {
		nodes, err := tx.ListNodes(tenantID)
		if err != nil {
			return err
		}
		out = nodes
		return nil
	})
	return out, err
}

// EnterMaintenance takes a node out of the schedulable pool.
func (r *Registry) EnterMaintenance(ctx context.Context, nodeID string) error {
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		n, err := getNode(tx, nodeID)
		if err != nil {
			return err
		}
		switch n.Status {
		case models.NodeMaintenance:
			return fault.Conflict(fault.CodeAlreadyInMaintenance, "node %s is already in maintenance", nodeID)
		case models.NodeDecommissioned:
			return fault.Precondition(fault.CodeNodeDecommissioned, "node %s is decommissioned", nodeID)
		}
		return transition(tx, n, models.NodeMaintenance)
	})
	if err != nil {
		return err
	}
	metrics.MaintenanceOps.WithLabelValues("enter").Inc()
	r.log.Info("node entered maintenance", zap.String("node_id", nodeID))
	return nil
}

// ExitMaintenance returns the node to Offline; it comes back Online on its
// next heartbeat.
func (r *Registry) ExitMaintenance(ctx context.Context, nodeID string) error {
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		n, err := getNode(tx, nodeID)
		if err != nil {
			return err
		}
		if n.Status != models.NodeMaintenance {
			return fault.Precondition(fault.CodeNotInMaintenance, "node %s is not in maintenance", nodeID)
		}
		return transition(tx, n, models.NodeOffline)
	})
	if err != nil {
		return err
	}
	metrics.MaintenanceOps.WithLabelValues("exit").Inc()
	r.log.Info("node exited maintenance", zap.String("node_id", nodeID))
	return nil
}

// Decommission terminally retires a node. Every Active reservation on it is
// released with reason node_decommissioned in the same transaction, so no
// admission window exists where the node is gone but its holds survive.
// The record itself is retained for audit.
func (r *Registry) Decommission(ctx context.Context, nodeID string) error {
	var released int
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		released = 0
		n, err := getNode(tx, nodeID)
		if err != nil {
			return err
		}
		if n.Status == models.NodeDecommissioned {
			return fault.Conflict(fault.CodeAlreadyDecommissioned, "node %s is already decommissioned", nodeID)
		}
		resvs, err := tx.ReservationsForNode(nodeID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, resv := range resvs {
			if resv.State != models.ReservationActive {
				continue
			}
			resv.State = models.ReservationReleased
			resv.TerminalAt = now
			resv.TerminalReason = models.ReasonNodeDecommissioned
			if err := tx.PutReservation(resv); err != nil {
				return err
			}
			if err := tx.AppendEvent(models.SubjectCapacityReleased, models.CapacityReleasedEvent{
				NodeID: nodeID,
				Token:  resv.ID,
				Reason: models.ReasonNodeDecommissioned,
			}); err != nil {
				return err
			}
			released++
		}
		return transition(tx, n, models.NodeDecommissioned)
	})
	if err != nil {
		return err
	}
	metrics.Decommissions.Inc()
	r.log.Info("node decommissioned",
		zap.String("node_id", nodeID),
		zap.Int("reservations_released", released))
	return nil
}

// getNode maps the store's not-found onto the domain code.
func getNode(tx storage.Tx, nodeID string) (*models.Node, error) {
	n, err := tx.GetNode(nodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fault.NotFound(fault.CodeNodeNotFound, "node %s not found", nodeID)
	}
	return n, err
}

// transition flips the node status, records the outbox event and persists.
// Shared with the heartbeat and staleness paths via Transition.
func transition(tx storage.Tx, n *models.Node, to models.NodeStatus) error {
	from := n.Status
	n.Status = to
	if err := tx.AppendEvent(models.SubjectNodeStatus, models.NodeStatusEvent{
		NodeID:    n.ID,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := tx.PutNode(n); err != nil {
		return err
	}
	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// Transition is the shared status-flip used by the heartbeat and staleness
// services so every lifecycle change funnels through one path.
func Transition(tx storage.Tx, n *models.Node, to models.NodeStatus) error {
	return transition(tx, n, to)
}
