package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/metrics"
	"github.com/hostforge/fleetd/internal/storage"
)

// Dispatcher drains the persisted outbox to the publisher. Events are
// deleted only after a successful publish; a failed publish leaves the
// record in place for the next pass, which is where the at-least-once
// guarantee comes from.
type Dispatcher struct {
	store storage.Store
	pub   Publisher
	log   *zap.Logger

	interval time.Duration
	batch    int
}

func NewDispatcher(store storage.Store, pub Publisher, interval time.Duration, batch int, log *zap.Logger) *Dispatcher {
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{store: store, pub: pub, log: log, interval: interval, batch: batch}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
		}
		if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("outbox drain failed", zap.Error(err))
		}
	}
}

// Drain publishes one batch of pending events.
func (d *Dispatcher) Drain(ctx context.Context) error {
	records, err := d.store.PendingEvents(ctx, d.batch)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := d.pub.Publish(ctx, rec.Subject, rec.Payload); err != nil {
			metrics.OutboxDispatched.WithLabelValues(metrics.OutcomeFailed).Inc()
			d.log.Warn("event publish failed, will retry",
				zap.String("subject", rec.Subject), zap.Error(err))
			// Keep outbox ordering: stop the batch at the first failure.
			return nil
		}
		if err := d.store.DeleteEvent(ctx, rec.Key); err != nil {
			return err
		}
		metrics.OutboxDispatched.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	return nil
}
