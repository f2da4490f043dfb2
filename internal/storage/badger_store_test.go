package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hostforge/fleetd/internal/models"
)

func newStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNodeRoundTripAndVersionBump(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	n := &models.Node{ID: "n1", TenantID: "t1", Name: "host", Status: models.NodeCreated}
	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		return tx.PutNode(n)
	}))
	require.EqualValues(t, 1, n.Version)

	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		got, err := tx.GetNode("n1")
		if err != nil {
			return err
		}
		got.Status = models.NodeOnline
		return tx.PutNode(got)
	}))

	require.NoError(t, store.View(ctx, func(tx Tx) error {
		got, err := tx.GetNode("n1")
		require.NoError(t, err)
		require.Equal(t, models.NodeOnline, got.Status)
		require.EqualValues(t, 2, got.Version)
		require.False(t, got.UpdatedAt.IsZero())
		return nil
	}))
}

func TestGetNodeNotFound(t *testing.T) {
	store := newStore(t)
	err := store.View(context.Background(), func(tx Tx) error {
		_, err := tx.GetNode("missing")
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNodeNameIndexNormalizes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		return tx.IndexNodeName("t1", "  Game-Host-01 ", "n1")
	}))
	require.NoError(t, store.View(ctx, func(tx Tx) error {
		id, err := tx.LookupNodeName("t1", "game-host-01")
		require.NoError(t, err)
		require.Equal(t, "n1", id)

		// Scoped per tenant.
		_, err = tx.LookupNodeName("t2", "game-host-01")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))

	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		return tx.DeleteNodeName("t1", "GAME-HOST-01")
	}))
	err := store.View(ctx, func(tx Tx) error {
		_, err := tx.LookupNodeName("t1", "game-host-01")
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReservationsForNodeIsolated(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	put := func(id, nodeID string) {
		require.NoError(t, store.Update(ctx, func(tx Tx) error {
			return tx.PutReservation(&models.CapacityReservation{
				ID: id, NodeID: nodeID, State: models.ReservationActive,
				CreatedAt: now, ExpiresAt: now.Add(time.Hour),
			})
		}))
	}
	put("r1", "nodeA")
	put("r2", "nodeA")
	put("r3", "nodeB")

	require.NoError(t, store.View(ctx, func(tx Tx) error {
		resvs, err := tx.ReservationsForNode("nodeA")
		require.NoError(t, err)
		require.Len(t, resvs, 2)

		resvs, err = tx.ReservationsForNode("nodeB")
		require.NoError(t, err)
		require.Len(t, resvs, 1)
		require.Equal(t, "r3", resvs[0].ID)
		return nil
	}))
}

func TestExpiredActiveReservationsScan(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	put := func(id string, state models.ReservationState, expires time.Time) {
		require.NoError(t, store.Update(ctx, func(tx Tx) error {
			return tx.PutReservation(&models.CapacityReservation{
				ID: id, NodeID: "n1", State: state,
				CreatedAt: now.Add(-time.Hour), ExpiresAt: expires,
			})
		}))
	}
	put("expired-1", models.ReservationActive, now.Add(-time.Minute))
	put("expired-2", models.ReservationActive, now.Add(-time.Second))
	put("live", models.ReservationActive, now.Add(time.Hour))
	put("terminal", models.ReservationReleased, now.Add(-time.Minute))

	require.NoError(t, store.View(ctx, func(tx Tx) error {
		stale, err := tx.ExpiredActiveReservations(now, 0)
		require.NoError(t, err)
		require.Len(t, stale, 2)

		limited, err := tx.ExpiredActiveReservations(now, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		return nil
	}))
}

func TestStaleOnlineNodesScan(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-2 * time.Minute)

	put := func(id string, status models.NodeStatus, hb time.Time) {
		require.NoError(t, store.Update(ctx, func(tx Tx) error {
			return tx.PutNode(&models.Node{ID: id, Status: status, LastHeartbeatAt: hb})
		}))
	}
	put("stale", models.NodeOnline, now.Add(-10*time.Minute))
	put("fresh", models.NodeOnline, now)
	put("maint", models.NodeMaintenance, now.Add(-10*time.Minute))
	put("dead", models.NodeDecommissioned, now.Add(-10*time.Minute))

	require.NoError(t, store.View(ctx, func(tx Tx) error {
		stale, err := tx.StaleOnlineNodes(cutoff, 0)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		require.Equal(t, "stale", stale[0].ID)
		return nil
	}))
}

func TestOutboxOrderAndDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		return tx.AppendEvent("subject.a", map[string]string{"k": "first"})
	}))
	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		return tx.AppendEvent("subject.b", map[string]string{"k": "second"})
	}))

	records, err := store.PendingEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "subject.a", records[0].Subject, "oldest first")
	require.Equal(t, "subject.b", records[1].Subject)

	require.NoError(t, store.DeleteEvent(ctx, records[0].Key))
	// Deleting twice is harmless; the dispatcher may race a restart.
	require.NoError(t, store.DeleteEvent(ctx, records[0].Key))

	records, err = store.PendingEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "subject.b", records[0].Subject)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutNode(&models.Node{ID: "ghost"}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	err = store.View(ctx, func(tx Tx) error {
		_, err := tx.GetNode("ghost")
		return err
	})
	require.ErrorIs(t, err, ErrNotFound, "aborted transaction must leave no trace")
}
