// Package capacity implements admission control for node capacity:
// time-bounded reservations against a node's spare resources, claim and
// release lifecycle, and the expiry sweep operation.
package capacity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/fault"
	"github.com/hostforge/fleetd/internal/metrics"
	"github.com/hostforge/fleetd/internal/models"
	"github.com/hostforge/fleetd/internal/storage"
)

// ReasonCallerReleased is the default terminal reason when the reservation
// holder gives the capacity back before placing a workload.
const ReasonCallerReleased = "caller_released"

type Config struct {
	// DefaultTTL applies when a create request carries no TTL.
	DefaultTTL time.Duration
	// MaxTTL clamps requested TTLs.
	MaxTTL time.Duration
}

type Service struct {
	store  storage.Store
	cfg    Config
	log    *zap.Logger
	tracer trace.Tracer

	// now is swappable in tests.
	now func() time.Time
}

func New(store storage.Store, cfg Config, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		cfg:    cfg,
		log:    log,
		tracer: otel.Tracer("fleetd/capacity"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create holds spare capacity on a node until the TTL elapses or the hold
// is claimed or released. The availability check and the insert run in one
// serializable store transaction, so two concurrent callers can never both
// admit against the same spare capacity.
func (s *Service) Create(ctx context.Context, nodeID string, requested models.Resources, ttl time.Duration) (*models.CapacityReservation, error) {
	ctx, span := s.tracer.Start(ctx, "capacity.Create",
		trace.WithAttributes(attribute.String("node_id", nodeID)))
	defer span.End()

	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}

	now := s.now()
	resv := &models.CapacityReservation{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		Requested: requested,
		State:     models.ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		n, err := tx.GetNode(nodeID)
		if errors.Is(err, storage.ErrNotFound) {
			return fault.NotFound(fault.CodeNodeNotFound, "node %s not found", nodeID)
		} else if err != nil {
			return err
		}
		switch n.Status {
		case models.NodeDecommissioned:
			return fault.Precondition(fault.CodeNodeDecommissioned, "node %s is decommissioned", nodeID)
		case models.NodeOnline:
			// schedulable
		default:
			return fault.Precondition(fault.CodeNodeUnavailable, "node %s is %s, not online", nodeID, n.Status)
		}
		if n.Capacity.IsZero() {
			return fault.Precondition(fault.CodeCapacityDataMissing, "node %s has no capacity figures", nodeID)
		}

		available, err := availableOn(tx, n)
		if err != nil {
			return err
		}
		if err := admit(requested, available); err != nil {
			return err
		}
		if err := tx.PutReservation(resv); err != nil {
			return err
		}
		// Bumping the node version here is what serializes concurrent
		// admissions on one node: two transactions that both read this
		// record cannot both write it, so one retries against the fresh
		// reservation set.
		return tx.PutNode(n)
	})
	if err != nil {
		metrics.ReservationOps.WithLabelValues("create", metrics.OutcomeFailed).Inc()
		return nil, err
	}
	metrics.ReservationOps.WithLabelValues("create", metrics.OutcomeOK).Inc()
	s.log.Info("reservation created",
		zap.String("token", resv.ID),
		zap.String("node_id", nodeID),
		zap.Duration("ttl", ttl))
	return resv, nil
}

// Claim converts an Active reservation into a committed allocation. Expiry
// is checked live against the clock, so an expired reservation is never
// claimable even before the sweep has run.
func (s *Service) Claim(ctx context.Context, token string) (*models.CapacityReservation, error) {
	ctx, span := s.tracer.Start(ctx, "capacity.Claim",
		trace.WithAttributes(attribute.String("token", token)))
	defer span.End()

	var out *models.CapacityReservation
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		resv, err := getReservation(tx, token)
		if err != nil {
			return err
		}
		switch resv.State {
		case models.ReservationClaimed:
			return fault.Conflict(fault.CodeReservationClaimed, "reservation %s is already claimed", token)
		case models.ReservationReleased:
			return fault.Conflict(fault.CodeReservationAlreadyReleased, "reservation %s was released", token)
		case models.ReservationExpired:
			return fault.Expired(fault.CodeReservationExpired, "reservation %s expired at %s", token, resv.ExpiresAt)
		}
		if resv.ExpiredBy(s.now()) {
			// The sweep has not caught it yet; the terminal transition is
			// left to the sweep so exactly one expiry event is recorded.
			return fault.Expired(fault.CodeReservationExpired, "reservation %s expired at %s", token, resv.ExpiresAt)
		}
		resv.State = models.ReservationClaimed
		resv.TerminalAt = s.now()
		out = resv
		return tx.PutReservation(resv)
	})
	if err != nil {
		metrics.ReservationOps.WithLabelValues("claim", metrics.OutcomeFailed).Inc()
		return nil, err
	}
	metrics.ReservationOps.WithLabelValues("claim", metrics.OutcomeOK).Inc()
	s.log.Info("reservation claimed", zap.String("token", token), zap.String("node_id", out.NodeID))
	return out, nil
}

// Release returns Active held capacity to the spare pool. Releasing an
// already Released or Expired reservation is a no-op success; releasing a
// Claimed one fails, because committed capacity belongs to the workload
// lifecycle (see ReleaseAllocation).
func (s *Service) Release(ctx context.Context, token, reason string) error {
	ctx, span := s.tracer.Start(ctx, "capacity.Release",
		trace.WithAttributes(attribute.String("token", token)))
	defer span.End()

	if reason == "" {
		reason = ReasonCallerReleased
	}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		resv, err := getReservation(tx, token)
		if err != nil {
			return err
		}
		switch resv.State {
		case models.ReservationReleased, models.ReservationExpired:
			return nil
		case models.ReservationClaimed:
			return fault.Conflict(fault.CodeReservationClaimed, "reservation %s is claimed; release the allocation instead", token)
		}
		return releaseResv(tx, resv, reason, s.now())
	})
	if err != nil {
		metrics.ReservationOps.WithLabelValues("release", metrics.OutcomeFailed).Inc()
		return err
	}
	metrics.ReservationOps.WithLabelValues("release", metrics.OutcomeOK).Inc()
	return nil
}

// ReleaseAllocation frees committed capacity once the consuming workload is
// torn down. This is the workload-lifecycle counterpart of Release: it only
// applies to Claimed reservations and is idempotent on Released.
func (s *Service) ReleaseAllocation(ctx context.Context, token, reason string) error {
	ctx, span := s.tracer.Start(ctx, "capacity.ReleaseAllocation",
		trace.WithAttributes(attribute.String("token", token)))
	defer span.End()

	if reason == "" {
		reason = "workload_removed"
	}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		resv, err := getReservation(tx, token)
		if err != nil {
			return err
		}
		switch resv.State {
		case models.ReservationReleased:
			return nil
		case models.ReservationActive:
			return fault.Precondition(fault.CodeReservationNotClaimed, "reservation %s is not claimed", token)
		case models.ReservationExpired:
			return fault.Expired(fault.CodeReservationExpired, "reservation %s expired at %s", token, resv.ExpiresAt)
		}
		return releaseResv(tx, resv, reason, s.now())
	})
	if err != nil {
		metrics.ReservationOps.WithLabelValues("release_allocation", metrics.OutcomeFailed).Inc()
		return err
	}
	metrics.ReservationOps.WithLabelValues("release_allocation", metrics.OutcomeOK).Inc()
	return nil
}

// ExpireStale transitions every Active reservation past its TTL to Expired,
// up to batchLimit per call, and returns the count. One expiry event is
// recorded per reservation. The live check in Claim is the correctness
// guarantee; this sweep reclaims the Active accounting promptly.
func (s *Service) ExpireStale(ctx context.Context, batchLimit int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "capacity.ExpireStale")
	defer span.End()

	count := 0
	now := s.now()
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		count = 0
		stale, err := tx.ExpiredActiveReservations(now, batchLimit)
		if err != nil {
			return err
		}
		for _, resv := range stale {
			resv.State = models.ReservationExpired
			resv.TerminalAt = now
			if err := tx.PutReservation(resv); err != nil {
				return err
			}
			if err := tx.AppendEvent(models.SubjectReservationExpired, models.ReservationExpiredEvent{
				NodeID:    resv.NodeID,
				Token:     resv.ID,
				ExpiredAt: now,
			}); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i := 0; i < count; i++ {
		metrics.ReservationOps.WithLabelValues("expire", metrics.OutcomeOK).Inc()
	}
	return count, nil
}

func (s *Service) Get(ctx context.Context, token string) (*models.CapacityReservation, error) {
	var out *models.CapacityReservation
	err := s.store.View(ctx, func(tx storage.Tx) error {
		resv, err := getReservation(tx, token)
		if err != nil {
			return err
		}
		out = resv
		return nil
	})
	return out, err
}

func (s *Service) ListForNode(ctx context.Context, nodeID string) ([]*models.CapacityReservation, error) {
	var out []*models.CapacityReservation
	err := s.store.View(ctx, func(tx storage.Tx) error {
		resvs, err := tx.ReservationsForNode(nodeID)
		if err != nil {
			return err
		}
		out = resvs
		return nil
	})
	return out, err
}

// Available computes the node's current spare capacity.
func (s *Service) Available(ctx context.Context, nodeID string) (models.Resources, error) {
	var out models.Resources
	err := s.store.View(ctx, func(tx storage.Tx) error {
		n, err := tx.GetNode(nodeID)
		if errors.Is(err, storage.ErrNotFound) {
			return fault.NotFound(fault.CodeNodeNotFound, "node %s not found", nodeID)
		} else if err != nil {
			return err
		}
		out, err = availableOn(tx, n)
		return err
	})
	return out, err
}

func releaseResv(tx storage.Tx, resv *models.CapacityReservation, reason string, now time.Time) error {
	resv.State = models.ReservationReleased
	resv.TerminalAt = now
	resv.TerminalReason = reason
	if err := tx.PutReservation(resv); err != nil {
		return err
	}
	return tx.AppendEvent(models.SubjectCapacityReleased, models.CapacityReleasedEvent{
		NodeID: resv.NodeID,
		Token:  resv.ID,
		Reason: reason,
	})
}

func getReservation(tx storage.Tx, token string) (*models.CapacityReservation, error) {
	resv, err := tx.GetReservation(token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fault.NotFound(fault.CodeReservationNotFound, "reservation %s not found", token)
	}
	return resv, err
}
