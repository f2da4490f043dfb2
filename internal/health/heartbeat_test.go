package health

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/fault"
	"github.com/hostforge/fleetd/internal/models"
	"github.com/hostforge/fleetd/internal/storage"
)

func newTestStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newService(t *testing.T, store *storage.BadgerStore) *Service {
	t.Helper()
	return New(store, Config{
		Thresholds:      testThresholds,
		TrendHysteresis: 3,
		StaleTimeout:    2 * time.Minute,
	}, zap.NewNop())
}

func seedNode(t *testing.T, store *storage.BadgerStore, status models.NodeStatus, lastHB time.Time) *models.Node {
	t.Helper()
	n := &models.Node{
		ID:              uuid.NewString(),
		TenantID:        "tenant-1",
		Name:            "node-" + uuid.NewString()[:8],
		Status:          status,
		Capacity:        models.Resources{CPUMillicores: 4000, MemoryMB: 8192, DiskMB: 100000},
		LastHeartbeatAt: lastHB,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.Update(context.Background(), func(tx storage.Tx) error {
		return tx.PutNode(n)
	}))
	return n
}

func quietSample(nodeID string, ts time.Time) models.HeartbeatSample {
	return models.HeartbeatSample{
		NodeID: nodeID, Timestamp: ts,
		CPUPercent: 20, MemPercent: 30, DiskPercent: 40, ProcessCount: 80,
	}
}

func TestHeartbeatBringsNodeOnline(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	for _, status := range []models.NodeStatus{models.NodeCreated, models.NodeOffline} {
		n := seedNode(t, store, status, time.Time{})
		got, err := svc.RecordHeartbeat(ctx, quietSample(n.ID, time.Now().UTC()))
		require.NoError(t, err)
		require.Equal(t, models.NodeOnline, got.Status)
		require.Equal(t, 100, got.HealthScore)
		require.Equal(t, models.HealthHealthy, got.HealthCategory)
	}
}

func TestHeartbeatKeepsMaintenanceHold(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	n := seedNode(t, store, models.NodeMaintenance, time.Time{})
	got, err := svc.RecordHeartbeat(ctx, quietSample(n.ID, time.Now().UTC()))
	require.NoError(t, err)
	require.Equal(t, models.NodeMaintenance, got.Status)
	require.False(t, got.LastHeartbeatAt.IsZero())
}

func TestHeartbeatRejectedForDecommissioned(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	n := seedNode(t, store, models.NodeDecommissioned, time.Time{})
	_, err := svc.RecordHeartbeat(ctx, quietSample(n.ID, time.Now().UTC()))
	require.True(t, fault.IsCode(err, fault.CodeNodeDecommissioned), "got %v", err)
}

func TestHeartbeatUnknownNode(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	_, err := svc.RecordHeartbeat(context.Background(), quietSample("no-such-node", time.Now().UTC()))
	require.True(t, fault.IsCode(err, fault.CodeNodeNotFound), "got %v", err)
}

func TestHeartbeatLastWriteWins(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	n := seedNode(t, store, models.NodeOnline, time.Time{})
	now := time.Now().UTC()

	_, err := svc.RecordHeartbeat(ctx, quietSample(n.ID, now))
	require.NoError(t, err)

	// An out-of-order sample from the past must not rewind the record.
	late := quietSample(n.ID, now.Add(-time.Minute))
	late.CPUPercent = 99
	got, err := svc.RecordHeartbeat(ctx, late)
	require.NoError(t, err)
	require.True(t, got.LastHeartbeatAt.Equal(now), "got %v, want %v", got.LastHeartbeatAt, now)
	require.Equal(t, 100, got.HealthScore)
}

func TestHeartbeatEmitsDegradedEvent(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	n := seedNode(t, store, models.NodeOnline, time.Time{})
	hot := models.HeartbeatSample{
		NodeID: n.ID, Timestamp: time.Now().UTC(),
		CPUPercent: 95, MemPercent: 95, DiskPercent: 95, ProcessCount: 100,
	}
	got, err := svc.RecordHeartbeat(ctx, hot)
	require.NoError(t, err)
	require.NotEqual(t, models.HealthHealthy, got.HealthCategory)

	records, err := store.PendingEvents(ctx, 0)
	require.NoError(t, err)
	var events []models.NodeDegradedEvent
	for _, rec := range records {
		if rec.Subject != models.SubjectNodeDegraded {
			continue
		}
		var ev models.NodeDegradedEvent
		require.NoError(t, json.Unmarshal(rec.Payload, &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	require.Equal(t, n.ID, events[0].NodeID)
	require.Contains(t, events[0].Issues, "cpu_utilization")

	// A second equally hot sample does not re-cross the boundary, so no
	// second notification.
	hot.Timestamp = hot.Timestamp.Add(time.Second)
	_, err = svc.RecordHeartbeat(ctx, hot)
	require.NoError(t, err)
	records, err = store.PendingEvents(ctx, 0)
	require.NoError(t, err)
	count := 0
	for _, rec := range records {
		if rec.Subject == models.SubjectNodeDegraded {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestCheckStaleNodes(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	base := time.Now().UTC()
	svc.now = func() time.Time { return base }

	staleAt := base.Add(-10 * time.Minute)
	online := seedNode(t, store, models.NodeOnline, staleAt)
	fresh := seedNode(t, store, models.NodeOnline, base.Add(-time.Second))
	maint := seedNode(t, store, models.NodeMaintenance, staleAt)
	gone := seedNode(t, store, models.NodeDecommissioned, staleAt)

	count, err := svc.CheckStaleNodes(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, count, "only the stale Online node transitions")

	status := func(id string) models.NodeStatus {
		var n *models.Node
		require.NoError(t, store.View(ctx, func(tx storage.Tx) error {
			var err error
			n, err = tx.GetNode(id)
			return err
		}))
		return n.Status
	}
	require.Equal(t, models.NodeOffline, status(online.ID))
	require.Equal(t, models.NodeOnline, status(fresh.ID))
	require.Equal(t, models.NodeMaintenance, status(maint.ID))
	require.Equal(t, models.NodeDecommissioned, status(gone.ID))

	// Exactly once: a second sweep finds nothing.
	count, err = svc.CheckStaleNodes(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	// A resumed heartbeat brings the node back.
	got, err := svc.RecordHeartbeat(ctx, quietSample(online.ID, base))
	require.NoError(t, err)
	require.Equal(t, models.NodeOnline, got.Status)
}

func TestCheckStaleNodesBatchLimit(t *testing.T) {
	store := newTestStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	base := time.Now().UTC()
	svc.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		seedNode(t, store, models.NodeOnline, base.Add(-time.Hour))
	}

	count, err := svc.CheckStaleNodes(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	total := count
	for total < 5 {
		n, err := svc.CheckStaleNodes(ctx, 2)
		require.NoError(t, err)
		require.NotZero(t, n)
		total += n
	}
	require.Equal(t, 5, total)
}
