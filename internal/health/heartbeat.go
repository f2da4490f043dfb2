// Package health ingests agent heartbeats, maintains per-node liveness and
// the derived health score, and detects nodes that have gone silent.
package health

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/fault"
	"github.com/hostforge/fleetd/internal/metrics"
	"github.com/hostforge/fleetd/internal/models"
	"github.com/hostforge/fleetd/internal/registry"
	"github.com/hostforge/fleetd/internal/storage"
)

type Config struct {
	Thresholds Thresholds
	// TrendHysteresis is the score band (± points) inside which the trend
	// does not flip.
	TrendHysteresis int
	// StaleTimeout is how long a node may go without a heartbeat before
	// the staleness sweep takes it Offline.
	StaleTimeout time.Duration
}

type Service struct {
	store storage.Store
	cfg   Config
	log   *zap.Logger

	now func() time.Time
}

func New(store storage.Store, cfg Config, log *zap.Logger) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RecordHeartbeat folds one telemetry sample into the node record: liveness
// timestamp, Offline→Online resumption, score, category and trend. Health
// state lives on the node aggregate and is written in the same transaction,
// so it stays correct with multiple service instances. Samples older than
// the recorded heartbeat are dropped (last-write-wins per node).
func (s *Service) RecordHeartbeat(ctx context.Context, sample models.HeartbeatSample) (*models.Node, error) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	var out *models.Node
	var degraded *models.NodeDegradedEvent
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		degraded = nil
		n, err := tx.GetNode(sample.NodeID)
		if errors.Is(err, storage.ErrNotFound) {
			return fault.NotFound(fault.CodeNodeNotFound, "node %s not found", sample.NodeID)
		} else if err != nil {
			return err
		}
		if n.Status == models.NodeDecommissioned {
			return fault.Precondition(fault.CodeNodeDecommissioned, "node %s is decommissioned", sample.NodeID)
		}
		if !n.LastHeartbeatAt.IsZero() && sample.Timestamp.Before(n.LastHeartbeatAt) {
			out = n
			return nil
		}

		n.LastHeartbeatAt = sample.Timestamp

		score := Score(sample, s.cfg.Thresholds)
		category := Categorize(score)
		trend := Trend(n.HealthTrend, n.HealthScore, score, s.cfg.TrendHysteresis)

		if category != n.HealthCategory && category != models.HealthHealthy {
			degraded = &models.NodeDegradedEvent{
				NodeID:    n.ID,
				Timestamp: sample.Timestamp,
				Category:  category,
				Score:     score,
				Issues:    Issues(sample, s.cfg.Thresholds),
			}
			if err := tx.AppendEvent(models.SubjectNodeDegraded, degraded); err != nil {
				return err
			}
		}

		n.HealthScore = score
		n.HealthCategory = category
		n.HealthTrend = trend

		// Maintenance is an operator hold: heartbeats keep health fresh
		// but never pull the node back into the schedulable pool.
		if n.Status == models.NodeCreated || n.Status == models.NodeOffline {
			if err := registry.Transition(tx, n, models.NodeOnline); err != nil {
				return err
			}
		} else {
			if err := tx.PutNode(n); err != nil {
				return err
			}
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.HealthScore.Observe(float64(out.HealthScore))
	if degraded != nil {
		s.log.Warn("node health degraded",
			zap.String("node_id", out.ID),
			zap.Int("score", out.HealthScore),
			zap.String("category", string(out.HealthCategory)),
			zap.Strings("issues", degraded.Issues))
	}
	return out, nil
}

// CheckStaleNodes takes Online nodes with no heartbeat inside the staleness
// timeout to Offline, up to batchLimit per call, and returns the count.
// Maintenance and Decommissioned nodes are never touched: the store scan
// only ever yields Online nodes.
func (s *Service) CheckStaleNodes(ctx context.Context, batchLimit int) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleTimeout)
	count := 0
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		count = 0
		stale, err := tx.StaleOnlineNodes(cutoff, batchLimit)
		if err != nil {
			return err
		}
		for _, n := range stale {
			if err := registry.Transition(tx, n, models.NodeOffline); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.StaleNodesDetected.Add(float64(count))
		s.log.Info("stale nodes taken offline", zap.Int("count", count))
	}
	return count, nil
}
