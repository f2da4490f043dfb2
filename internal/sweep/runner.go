// Package sweep runs the periodic reconciliation loops. Each Runner is an
// independent failure domain: a tick that errors is logged and the loop
// carries on, and cancellation during the inter-tick wait is a clean exit.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TickFunc does one unit of reconciliation work with a fresh context.
type TickFunc func(ctx context.Context) error

type Runner struct {
	name     string
	interval time.Duration
	tick     TickFunc
	log      *zap.Logger

	// TickTimeout bounds a single tick; defaults to the interval.
	TickTimeout time.Duration
}

func NewRunner(name string, interval time.Duration, tick TickFunc, log *zap.Logger) *Runner {
	return &Runner{name: name, interval: interval, tick: tick, log: log}
}

// Run loops until ctx is cancelled. It never returns an error: shutdown is
// not a failure, and a bad tick must not halt future reconciliation.
func (r *Runner) Run(ctx context.Context) {
	timeout := r.TickTimeout
	if timeout <= 0 {
		timeout = r.interval
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("sweep started", zap.String("sweep", r.name), zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("sweep stopped", zap.String("sweep", r.name))
			return
		case <-ticker.C:
		}
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := r.tick(tickCtx); err != nil && ctx.Err() == nil {
			r.log.Error("sweep tick failed", zap.String("sweep", r.name), zap.Error(err))
		}
		cancel()
	}
}

// Batched adapts a bounded batch operation into a TickFunc: it keeps taking
// batches until one comes back short, pausing briefly between batches to
// limit store load.
func Batched(op func(ctx context.Context, limit int) (int, error), limit int, pause time.Duration, log *zap.Logger, name string) TickFunc {
	return func(ctx context.Context) error {
		total := 0
		for {
			n, err := op(ctx, limit)
			if err != nil {
				return err
			}
			total += n
			if n < limit {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pause):
			}
		}
		if total > 0 {
			log.Info("sweep processed records", zap.String("sweep", name), zap.Int("count", total))
		}
		return nil
	}
}
