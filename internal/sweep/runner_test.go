package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerSurvivesTickErrors(t *testing.T) {
	var ticks atomic.Int32
	r := NewRunner("test", 5*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("boom")
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 },
		time.Second, time.Millisecond, "loop must keep ticking through errors")
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not exit on cancellation")
	}
}

func TestRunnerStopsPromptlyDuringWait(t *testing.T) {
	r := NewRunner("test", time.Hour, func(ctx context.Context) error {
		t.Fatal("tick must not fire")
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancellation during the inter-tick wait must exit cleanly")
	}
}

func TestBatchedDrainsUntilShortBatch(t *testing.T) {
	batches := []int{5, 5, 2}
	i := 0
	op := func(ctx context.Context, limit int) (int, error) {
		require.Equal(t, 5, limit)
		n := batches[i]
		i++
		return n, nil
	}
	tick := Batched(op, 5, time.Millisecond, zap.NewNop(), "test")
	require.NoError(t, tick(context.Background()))
	require.Equal(t, 3, i, "keeps taking batches until one comes back short")
}

func TestBatchedPropagatesError(t *testing.T) {
	tick := Batched(func(ctx context.Context, limit int) (int, error) {
		return 0, errors.New("store down")
	}, 5, time.Millisecond, zap.NewNop(), "test")
	require.Error(t, tick(context.Background()))
}
