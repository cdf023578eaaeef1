package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

type bookingRepo struct {
	s *Store
}

func (r *bookingRepo) Create(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	err := r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBookings)
		if b.Get([]byte(booking.ID)) != nil {
			return fmt.Errorf("%w: booking '%s'", repository.ErrDuplicateEntry, booking.ID)
		}
		if err := checkOverlap(b, booking); err != nil {
			return err
		}
		now := r.s.stamp()
		booking.CreatedAt = now
		booking.UpdatedAt = now
		if booking.NotificationsSent == nil {
			booking.NotificationsSent = []domain.ReminderKind{}
		}
		return putJSON(b, booking.ID, booking)
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// checkOverlap enforces the live-booking rules against every other booking:
// one live booking per slot per instant, one per plate per instant.
func checkOverlap(b *bolt.Bucket, candidate *domain.Booking) error {
	if !candidate.Status.IsLive() {
		return nil
	}
	window := candidate.Window()
	plate := domain.NormalizePlate(candidate.Plate)
	return b.ForEach(func(_, v []byte) error {
		var other domain.Booking
		if err := json.Unmarshal(v, &other); err != nil {
			return err
		}
		if other.ID == candidate.ID || !other.Status.IsLive() || !other.Window().Overlaps(window) {
			return nil
		}
		if other.SlotNumber == candidate.SlotNumber {
			return fmt.Errorf("%w: slot %s (booking %s)", repository.ErrSlotOverlap, candidate.SlotNumber, other.ID)
		}
		if domain.NormalizePlate(other.Plate) == plate {
			return fmt.Errorf("%w: biển số %s (booking %s)", repository.ErrPlateOverlap, candidate.Plate, other.ID)
		}
		return nil
	})
}

func (r *bookingRepo) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	var booking domain.Booking
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketBookings), id, &booking)
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// mutate loads a booking, applies fn and persists the result inside one write tx.
func (r *bookingRepo) mutate(id string, fn func(*domain.Booking) (bool, error)) (*domain.Booking, error) {
	var booking domain.Booking
	err := r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBookings)
		if err := getJSON(b, id, &booking); err != nil {
			return err
		}
		changed, err := fn(&booking)
		if err != nil || !changed {
			return err
		}
		if err := checkOverlap(b, &booking); err != nil {
			return err
		}
		booking.UpdatedAt = r.s.stamp()
		return putJSON(b, id, &booking)
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *bookingRepo) Update(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	return r.mutate(booking.ID, func(stored *domain.Booking) (bool, error) {
		createdAt := stored.CreatedAt
		*stored = *booking
		stored.CreatedAt = createdAt
		return true, nil
	})
}

// scan returns every booking accepted by keep, sorted with less.
func (r *bookingRepo) scan(keep func(*domain.Booking) bool, less func(a, b *domain.Booking) bool) ([]domain.Booking, error) {
	bookings := []domain.Booking{}
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBookings).ForEach(func(_, v []byte) error {
			var booking domain.Booking
			if err := json.Unmarshal(v, &booking); err != nil {
				return err
			}
			if keep(&booking) {
				bookings = append(bookings, booking)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if less != nil {
		sort.SliceStable(bookings, func(i, j int) bool { return less(&bookings[i], &bookings[j]) })
	}
	return bookings, nil
}

func (r *bookingRepo) first(keep func(*domain.Booking) bool, less func(a, b *domain.Booking) bool) (*domain.Booking, error) {
	bookings, err := r.scan(keep, less)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, repository.ErrNotFound
	}
	return &bookings[0], nil
}

func hasStatus(statuses []domain.BookingStatus, s domain.BookingStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// matchesPlate checks the raw and normalized forms.
func matchesPlate(b *domain.Booking, plate string) bool {
	norm := domain.NormalizePlate(plate)
	return b.Plate == plate || b.PlateNormalized == norm || domain.NormalizePlate(b.Plate) == norm
}

func byStart(a, b *domain.Booking) bool { return a.StartTime.Before(b.StartTime) }

func (r *bookingRepo) FindOverlappingBySlot(ctx context.Context, slotNumber string, window domain.Window, statuses []domain.BookingStatus) ([]domain.Booking, error) {
	return r.scan(func(b *domain.Booking) bool {
		return b.SlotNumber == slotNumber && hasStatus(statuses, b.Status) && b.Window().Overlaps(window)
	}, byStart)
}

func (r *bookingRepo) FindOverlappingByPlate(ctx context.Context, plate string, window domain.Window, statuses []domain.BookingStatus) ([]domain.Booking, error) {
	return r.scan(func(b *domain.Booking) bool {
		return matchesPlate(b, plate) && hasStatus(statuses, b.Status) && b.Window().Overlaps(window)
	}, byStart)
}

func (r *bookingRepo) FindActiveForSlot(ctx context.Context, slotNumber string) (*domain.Booking, error) {
	return r.first(func(b *domain.Booking) bool {
		return b.SlotNumber == slotNumber && b.Status == domain.BookingActive
	}, func(a, b *domain.Booking) bool { return a.StartTime.After(b.StartTime) })
}

func (r *bookingRepo) FindPendingForSlot(ctx context.Context, slotNumber string) (*domain.Booking, error) {
	return r.first(func(b *domain.Booking) bool {
		return b.SlotNumber == slotNumber && b.Status == domain.BookingPendingArrival
	}, byStart)
}

func (r *bookingRepo) FindMostRecentLive(ctx context.Context) (*domain.Booking, error) {
	return r.first(func(b *domain.Booking) bool {
		return b.Status.IsLive()
	}, func(a, b *domain.Booking) bool { return a.UpdatedAt.After(b.UpdatedAt) })
}

func (r *bookingRepo) FindPendingArrivalByPlate(ctx context.Context, plate string, now time.Time) (*domain.Booking, error) {
	return r.first(func(b *domain.Booking) bool {
		return b.Status == domain.BookingPendingArrival && matchesPlate(b, plate) && !b.BufferPassed(now)
	}, byStart)
}

func (r *bookingRepo) FindPendingWithBuffer(ctx context.Context) ([]domain.Booking, error) {
	return r.scan(func(b *domain.Booking) bool {
		return b.Status == domain.BookingPendingArrival && b.BufferExpiry.Valid
	}, func(a, b *domain.Booking) bool { return a.BufferExpiry.Time.Before(b.BufferExpiry.Time) })
}

func (r *bookingRepo) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, at time.Time) (*domain.Booking, error) {
	return r.mutate(id, func(b *domain.Booking) (bool, error) {
		b.Status = status
		switch status {
		case domain.BookingActive:
			b.ActualStartTime.SetValid(at)
		case domain.BookingCompleted:
			b.ActualEndTime.SetValid(at)
		}
		return true, nil
	})
}

func (r *bookingRepo) AppendNotification(ctx context.Context, id string, kind domain.ReminderKind) (bool, error) {
	added := false
	_, err := r.mutate(id, func(b *domain.Booking) (bool, error) {
		if b.HasNotification(kind) {
			return false, nil
		}
		b.NotificationsSent = append(b.NotificationsSent, kind)
		added = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (r *bookingRepo) Extend(ctx context.Context, id string, newEnd time.Time, extraCost float64) (*domain.Booking, error) {
	return r.mutate(id, func(b *domain.Booking) (bool, error) {
		b.EndTime = newEnd
		b.TotalCost += extraCost
		return true, nil
	})
}

func (r *bookingRepo) FindByAccount(ctx context.Context, accountID string, plates []string) ([]domain.Booking, error) {
	return r.scan(func(b *domain.Booking) bool {
		if b.AccountID.Valid {
			return b.AccountID.String == accountID
		}
		for _, p := range plates {
			if matchesPlate(b, p) {
				return true
			}
		}
		return false
	}, func(a, b *domain.Booking) bool { return a.CreatedAt.After(b.CreatedAt) })
}
