package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"

	bolt "github.com/boltdb/bolt"

	"parking_reservation/internal/domain"
)

type deviceEventsRepo struct {
	s *Store
}

// Create appends the event under a big-endian sequence key so a cursor walks them in arrival order.
func (r *deviceEventsRepo) Create(ctx context.Context, event *domain.DeviceEventLog) error {
	return r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeviceEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		event.ID = int64(seq)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}
