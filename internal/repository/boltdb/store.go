// Package boltdb is an embedded BoltDB implementation of the repository
// interfaces, used for single-node deployments and tests.
//
// Every record is stored as JSON under its natural key. Writes that must
// respect the booking overlap rules check them inside the same bolt write
// transaction, and bolt serializes write transactions, so the check and the
// write cannot interleave with another writer.
package boltdb

import (
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"

	"parking_reservation/internal/repository"
)

var (
	bucketSlots        = []byte("slots")
	bucketBookings     = []byte("bookings")
	bucketAccounts     = []byte("accounts")
	bucketDeviceEvents = []byte("device_events")
)

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database file and ensures all buckets exist.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSlots, bucketBookings, bucketAccounts, bucketDeviceEvents} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

func (s *Store) Slots() repository.ParkingSlotRepository { return &slotRepo{s} }

func (s *Store) Bookings() repository.BookingRepository { return &bookingRepo{s} }

func (s *Store) Accounts() repository.AccountRepository { return &accountRepo{s} }

func (s *Store) DeviceEvents() repository.DeviceEventsLogRepository { return &deviceEventsRepo{s} }

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return repository.ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}
