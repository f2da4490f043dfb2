package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/hostforge/fleetd/internal/models"
)

// Key layout. Index values hold the primary key (or nothing) so scans stay
// cheap; entities are JSON under their primary key.
//
//	node:<id>                          Node
//	nodename:<tenant>:<lower(name)>    node id
//	resv:<id>                          CapacityReservation
//	resvnode:<nodeID>:<resvID>         (empty)
//	outbox:<unixnano>-<uuid>           event envelope
const (
	nodePrefix     = "node:"
	nodeNamePrefix = "nodename:"
	resvPrefix     = "resv:"
	resvNodePrefix = "resvnode:"
	outboxPrefix   = "outbox:"
)

// conflictRetries bounds optimistic-concurrency retries per Update call.
const conflictRetries = 5

// BadgerStore implements Store with Badger DB. Badger's SSI transactions
// carry the serializability requirement for check-and-insert admission.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
		if !errors.Is(lastErr, badger.ErrConflict) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", ErrTxnConflict, lastErr)
}

func (s *BadgerStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// eventEnvelope is the persisted outbox format.
type eventEnvelope struct {
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload"`
}

func (s *BadgerStore) PendingEvents(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []OutboxRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(prefixIterOpts(outboxPrefix))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			item := it.Item()
			key := string(item.Key())
			var env eventEnvelope
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &env)
			}); err != nil {
				return err
			}
			out = append(out, OutboxRecord{Key: key, Subject: env.Subject, Payload: env.Payload})
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) DeleteEvent(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// badgerTx adapts a badger transaction to the Tx unit of work.
type badgerTx struct {
	txn *badger.Txn
}

func nodeKey(id string) []byte { return []byte(nodePrefix + id) }

func nodeNameKey(tenantID, name string) []byte {
	return []byte(nodeNamePrefix + tenantID + ":" + models.NormalizeName(name))
}

func resvKey(id string) []byte { return []byte(resvPrefix + id) }

func resvNodeKey(nodeID, resvID string) []byte {
	return []byte(resvNodePrefix + nodeID + ":" + resvID)
}

func prefixIterOpts(prefix string) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	return opts
}

func (t *badgerTx) getJSON(key []byte, out any) error {
	item, err := t.txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func (t *badgerTx) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, data)
}

func (t *badgerTx) GetNode(id string) (*models.Node, error) {
	var n models.Node
	if err := t.getJSON(nodeKey(id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (t *badgerTx) PutNode(n *models.Node) error {
	n.Version++
	n.UpdatedAt = time.Now().UTC()
	return t.setJSON(nodeKey(n.ID), n)
}

func (t *badgerTx) LookupNodeName(tenantID, name string) (string, error) {
	item, err := t.txn.Get(nodeNameKey(tenantID, name))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return "", ErrNotFound
		}
		return "", err
	}
	var id string
	err = item.Value(func(v []byte) error {
		id = string(v)
		return nil
	})
	return id, err
}

func (t *badgerTx) IndexNodeName(tenantID, name, nodeID string) error {
	return t.txn.Set(nodeNameKey(tenantID, name), []byte(nodeID))
}

func (t *badgerTx) DeleteNodeName(tenantID, name string) error {
	err := t.txn.Delete(nodeNameKey(tenantID, name))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return err
}

func (t *badgerTx) ListNodes(tenantID string) ([]*models.Node, error) {
	var out []*models.Node
	it := t.txn.NewIterator(prefixIterOpts(nodePrefix))
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		var n models.Node
		if err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &n)
		}); err != nil {
			return nil, err
		}
		if tenantID != "" && n.TenantID != tenantID {
			continue
		}
		node := n
		out = append(out, &node)
	}
	return out, nil
}

func (t *badgerTx) GetReservation(id string) (*models.CapacityReservation, error) {
	var r models.CapacityReservation
	if err := t.getJSON(resvKey(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *badgerTx) PutReservation(r *models.CapacityReservation) error {
	if err := t.setJSON(resvKey(r.ID), r); err != nil {
		return err
	}
	return t.txn.Set(resvNodeKey(r.NodeID, r.ID), nil)
}

func (t *badgerTx) ReservationsForNode(nodeID string) ([]*models.CapacityReservation, error) {
	var out []*models.CapacityReservation
	prefix := resvNodePrefix + nodeID + ":"
	it := t.txn.NewIterator(prefixIterOpts(prefix))
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		resvID := strings.TrimPrefix(string(it.Item().Key()), prefix)
		r, err := t.GetReservation(resvID)
		if err != nil {
			return nil, fmt.Errorf("load reservation %s: %w", resvID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *badgerTx) ExpiredActiveReservations(now time.Time, limit int) ([]*models.CapacityReservation, error) {
	var out []*models.CapacityReservation
	it := t.txn.NewIterator(prefixIterOpts(resvPrefix))
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var r models.CapacityReservation
		if err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &r)
		}); err != nil {
			return nil, err
		}
		if r.State == models.ReservationActive && r.ExpiredBy(now) {
			resv := r
			out = append(out, &resv)
		}
	}
	return out, nil
}

func (t *badgerTx) StaleOnlineNodes(cutoff time.Time, limit int) ([]*models.Node, error) {
	var out []*models.Node
	it := t.txn.NewIterator(prefixIterOpts(nodePrefix))
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var n models.Node
		if err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &n)
		}); err != nil {
			return nil, err
		}
		if n.Status == models.NodeOnline && n.LastHeartbeatAt.Before(cutoff) {
			node := n
			out = append(out, &node)
		}
	}
	return out, nil
}

func (t *badgerTx) AppendEvent(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := eventEnvelope{Subject: subject, Payload: data}
	key := fmt.Sprintf("%s%020d-%s", outboxPrefix, time.Now().UnixNano(), uuid.NewString())
	return t.setJSON([]byte(key), env)
}
