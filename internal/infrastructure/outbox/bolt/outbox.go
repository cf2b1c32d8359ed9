// Package bolt persists pending ledger synchronisations in a BoltDB file
// so that they survive restarts.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
)

var bucketOutbox = []byte("ledger_outbox")

// Outbox implements port.SyncOutbox using BoltDB
type Outbox struct {
	db *bolt.DB
}

// Open opens or creates the outbox database
func Open(path string) (*Outbox, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOutbox)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox bucket: %w", err)
	}

	return &Outbox{db: db}, nil
}

// Enqueue stores a new item
func (o *Outbox) Enqueue(_ context.Context, item port.OutboxItem) error {
	return o.put(item)
}

// Reschedule overwrites an existing item with new attempt metadata
func (o *Outbox) Reschedule(_ context.Context, item port.OutboxItem) error {
	return o.put(item)
}

// Due returns up to limit items whose next attempt is not after now, oldest first
func (o *Outbox) Due(_ context.Context, now time.Time, limit int) ([]port.OutboxItem, error) {
	var due []port.OutboxItem
	err := o.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var item port.OutboxItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if !item.NextAttempt.After(now) {
				due = append(due, item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttempt.Before(due[j].NextAttempt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Ack removes a delivered item
func (o *Outbox) Ack(_ context.Context, id string) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketOutbox)
		}
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("outbox item %s: %w", id, domainerr.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// Len returns the number of pending items
func (o *Outbox) Len(_ context.Context) (int, error) {
	var n int
	err := o.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database file
func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) put(item port.OutboxItem) error {
	if item.ID == "" {
		return fmt.Errorf("%w: outbox item id is required", domainerr.ErrInvalidInput)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketOutbox)
		}
		return b.Put([]byte(item.ID), data)
	})
}
