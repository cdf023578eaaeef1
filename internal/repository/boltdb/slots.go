package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "github.com/boltdb/bolt"
	"gopkg.in/guregu/null.v4"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

type slotRepo struct {
	s *Store
}

func (r *slotRepo) Create(ctx context.Context, slot *domain.ParkingSlot) (*domain.ParkingSlot, error) {
	err := r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSlots)
		if b.Get([]byte(slot.SlotNumber)) != nil {
			return fmt.Errorf("%w: chỗ đỗ '%s' đã tồn tại", repository.ErrDuplicateEntry, slot.SlotNumber)
		}
		if slot.Status == "" {
			slot.Status = domain.SlotAvailable
		}
		now := r.s.stamp()
		slot.CreatedAt = now
		slot.UpdatedAt = now
		return putJSON(b, slot.SlotNumber, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (r *slotRepo) FindAll(ctx context.Context) ([]domain.ParkingSlot, error) {
	slots := []domain.ParkingSlot{}
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSlots).ForEach(func(_, v []byte) error {
			var slot domain.ParkingSlot
			if err := json.Unmarshal(v, &slot); err != nil {
				return err
			}
			slots = append(slots, slot)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *slotRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSlots).Stats().KeyN
		return nil
	})
	return n, err
}

func (r *slotRepo) FindBySlotNumber(ctx context.Context, slotNumber string) (*domain.ParkingSlot, error) {
	var slot domain.ParkingSlot
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketSlots), slotNumber, &slot)
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *slotRepo) UpdateStatus(ctx context.Context, slotNumber string, status domain.SlotStatus, bookingID null.String, source string) error {
	return r.write(slotNumber, nil, status, bookingID, source)
}

func (r *slotRepo) CompareAndSetStatus(ctx context.Context, slotNumber string, expected, next domain.SlotStatus, bookingID null.String, source string) error {
	return r.write(slotNumber, &expected, next, bookingID, source)
}

func (r *slotRepo) write(slotNumber string, expected *domain.SlotStatus, next domain.SlotStatus, bookingID null.String, source string) error {
	return r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSlots)
		var slot domain.ParkingSlot
		if err := getJSON(b, slotNumber, &slot); err != nil {
			return err
		}
		if expected != nil && slot.Status != *expected {
			return repository.ErrStatusMismatch
		}
		now := r.s.stamp()
		slot.Status = next
		slot.CurrentBookingID = bookingID
		slot.LastStatusUpdateSource = source
		slot.LastEventTimestamp = &now
		slot.UpdatedAt = now
		return putJSON(b, slotNumber, &slot)
	})
}
