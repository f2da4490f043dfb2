package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/storage"
)

type recordingPublisher struct {
	published []string
	fail      bool
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	if p.fail {
		return errors.New("nats down")
	}
	p.published = append(p.published, subject)
	return nil
}

func (p *recordingPublisher) Close() {}

func newStoreWithEvents(t *testing.T, subjects ...string) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	for _, subject := range subjects {
		require.NoError(t, store.Update(context.Background(), func(tx storage.Tx) error {
			return tx.AppendEvent(subject, map[string]string{"subject": subject})
		}))
	}
	return store
}

func TestDrainPublishesAndDeletes(t *testing.T) {
	store := newStoreWithEvents(t, "a", "b", "c")
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, time.Second, 100, zap.NewNop())

	require.NoError(t, d.Drain(context.Background()))
	require.Equal(t, []string{"a", "b", "c"}, pub.published)

	records, err := store.PendingEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, records, "dispatched events leave the outbox")
}

func TestDrainKeepsEventsOnPublishFailure(t *testing.T) {
	store := newStoreWithEvents(t, "a", "b")
	pub := &recordingPublisher{fail: true}
	d := NewDispatcher(store, pub, time.Second, 100, zap.NewNop())

	require.NoError(t, d.Drain(context.Background()))

	records, err := store.PendingEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2, "undelivered events stay for the next pass")

	// Recovery: the next drain delivers the backlog in order.
	pub.fail = false
	require.NoError(t, d.Drain(context.Background()))
	require.Equal(t, []string{"a", "b"}, pub.published)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newStoreWithEvents(t)
	d := NewDispatcher(store, &recordingPublisher{}, time.Millisecond, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancellation")
	}
}
