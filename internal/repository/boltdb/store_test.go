package boltdb_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/guregu/null.v4"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
	"parking_reservation/internal/repository/boltdb"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *boltdb.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := boltdb.Open(filepath.Join(dir, "test.db"), boltdb.WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func booking(id, slot, plate string, start, end time.Time, status domain.BookingStatus) *domain.Booking {
	return &domain.Booking{
		ID:              id,
		Source:          domain.SourceWeb,
		Plate:           plate,
		PlateNormalized: domain.NormalizePlate(plate),
		SlotNumber:      slot,
		StartTime:       start,
		EndTime:         end,
		Status:          status,
	}
}

func TestSlotCreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, slot := range domain.DefaultInventory() {
		if _, err := s.Slots().Create(ctx, &slot); err != nil {
			t.Fatalf("create %s: %v", slot.SlotNumber, err)
		}
	}
	n, err := s.Slots().Count(ctx)
	if err != nil || n != 18 {
		t.Fatalf("expected 18 slots, got %d (%v)", n, err)
	}

	dup := domain.ParkingSlot{SlotNumber: "A1", VehicleClass: domain.VehicleCar}
	if _, err := s.Slots().Create(ctx, &dup); !errors.Is(err, repository.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}

	if _, err := s.Slots().FindBySlotNumber(ctx, "Z9"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	b1, err := s.Slots().FindBySlotNumber(ctx, "B1")
	if err != nil {
		t.Fatalf("find B1: %v", err)
	}
	if b1.VehicleClass != domain.VehicleHandicapped || b1.Status != domain.SlotAvailable {
		t.Fatalf("unexpected B1: %+v", b1)
	}
}

func TestSlotCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	slot := domain.ParkingSlot{SlotNumber: "A1", VehicleClass: domain.VehicleCar}
	if _, err := s.Slots().Create(ctx, &slot); err != nil {
		t.Fatal(err)
	}

	err := s.Slots().CompareAndSetStatus(ctx, "A1", domain.SlotAvailable, domain.SlotReserved, null.StringFrom("b-1"), "test")
	if err != nil {
		t.Fatalf("first CAS: %v", err)
	}
	// Same expectation again must fail: the slot is RESERVED now.
	err = s.Slots().CompareAndSetStatus(ctx, "A1", domain.SlotAvailable, domain.SlotOccupied, null.String{}, "test")
	if !errors.Is(err, repository.ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	got, _ := s.Slots().FindBySlotNumber(ctx, "A1")
	if got.Status != domain.SlotReserved || got.CurrentBookingID.String != "b-1" {
		t.Fatalf("unexpected slot after CAS: %+v", got)
	}

	if err := s.Slots().CompareAndSetStatus(ctx, "Z9", domain.SlotAvailable, domain.SlotOccupied, null.String{}, "test"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBookingCreateRejectsOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Bookings()

	if _, err := repo.Create(ctx, booking("b1", "A1", "AP07TA4050", t0, t0.Add(2*time.Hour), domain.BookingPendingArrival)); err != nil {
		t.Fatalf("create b1: %v", err)
	}

	_, err := repo.Create(ctx, booking("b2", "A1", "KA01AB1234", t0.Add(time.Hour), t0.Add(3*time.Hour), domain.BookingPendingArrival))
	if !errors.Is(err, repository.ErrSlotOverlap) {
		t.Fatalf("expected ErrSlotOverlap, got %v", err)
	}

	// Same vehicle, different slot, written with dashes.
	_, err = repo.Create(ctx, booking("b3", "A2", "ap-07-ta-4050", t0.Add(time.Hour), t0.Add(3*time.Hour), domain.BookingPendingArrival))
	if !errors.Is(err, repository.ErrPlateOverlap) {
		t.Fatalf("expected ErrPlateOverlap, got %v", err)
	}

	// Touching endpoints are fine.
	if _, err := repo.Create(ctx, booking("b4", "A1", "KA01AB1234", t0.Add(2*time.Hour), t0.Add(3*time.Hour), domain.BookingPendingArrival)); err != nil {
		t.Fatalf("adjacent booking: %v", err)
	}

	if _, err := repo.Create(ctx, booking("b1", "C4", "TN10ZZ0001", t0.Add(5*time.Hour), t0.Add(6*time.Hour), domain.BookingPendingArrival)); !errors.Is(err, repository.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestBookingTerminalDoesNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Bookings()

	if _, err := repo.Create(ctx, booking("b1", "A1", "AP07TA4050", t0, t0.Add(2*time.Hour), domain.BookingPendingArrival)); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpdateStatus(ctx, "b1", domain.BookingCancelled, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(ctx, booking("b2", "A1", "AP07TA4050", t0, t0.Add(2*time.Hour), domain.BookingPendingArrival)); err != nil {
		t.Fatalf("expected cancelled booking to free the window, got %v", err)
	}
}

func TestBookingExtendRejectsOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Bookings()

	repo.Create(ctx, booking("b1", "A1", "AP07TA4050", t0, t0.Add(time.Hour), domain.BookingActive))
	repo.Create(ctx, booking("b2", "A1", "KA01AB1234", t0.Add(2*time.Hour), t0.Add(3*time.Hour), domain.BookingPendingArrival))

	if _, err := repo.Extend(ctx, "b1", t0.Add(2*time.Hour), 50); err != nil {
		t.Fatalf("extend up to the next booking: %v", err)
	}
	_, err := repo.Extend(ctx, "b1", t0.Add(150*time.Minute), 25)
	if !errors.Is(err, repository.ErrSlotOverlap) {
		t.Fatalf("expected ErrSlotOverlap, got %v", err)
	}
	got, _ := repo.FindByID(ctx, "b1")
	if !got.EndTime.Equal(t0.Add(2*time.Hour)) || got.TotalCost != 50 {
		t.Fatalf("failed extension must not be persisted: %+v", got)
	}
}

func TestBookingUpdateStatusStampsActualTimes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Bookings()
	repo.Create(ctx, booking("b1", "A1", "AP07TA4050", t0, t0.Add(time.Hour), domain.BookingPendingArrival))

	arrived := t0.Add(3 * time.Minute)
	got, err := repo.UpdateStatus(ctx, "b1", domain.BookingActive, arrived)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ActualStartTime.Valid || !got.ActualStartTime.Time.Equal(arrived) {
		t.Fatalf("actual start not stamped: %+v", got.ActualStartTime)
	}

	left := t0.Add(50 * time.Minute)
	got, err = repo.UpdateStatus(ctx, "b1", domain.BookingCompleted, left)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ActualEndTime.Valid || !got.ActualEndTime.Time.Equal(left) || !got.ActualStartTime.Time.Equal(arrived) {
		t.Fatalf("unexpected actual times: %+v", got)
	}

	if _, err := repo.UpdateStatus(ctx, "missing", domain.BookingActive, left); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendNotificationIdempotency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Bookings()
	repo.Create(ctx, booking("b1", "A1", "AP07TA4050", t0, t0.Add(time.Hour), domain.BookingPendingArrival))

	added, err := repo.AppendNotification(ctx, "b1", domain.Reminder15Min)
	if err != nil || !added {
		t.Fatalf("first append: added=%v err=%v", added, err)
	}
	added, err = repo.AppendNotification(ctx, "b1", domain.Reminder15Min)
	if err != nil || added {
		t.Fatalf("second append: added=%v err=%v", added, err)
	}
	got, _ := repo.FindByID(ctx, "b1")
	if len(got.NotificationsSent) != 1 {
		t.Fatalf("expected one marker, got %v", got.NotificationsSent)
	}
}

func TestFindPendingArrivalByPlate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Bookings()

	b := booking("b1", "A1", "AP 07 TA 4050", t0, t0.Add(time.Hour), domain.BookingPendingArrival)
	b.BufferExpiry = null.TimeFrom(t0.Add(30 * time.Minute))
	repo.Create(ctx, b)

	got, err := repo.FindPendingArrivalByPlate(ctx, "ap07ta4050", t0.Add(10*time.Minute))
	if err != nil || got.ID != "b1" {
		t.Fatalf("expected b1, got %v (%v)", got, err)
	}
	if _, err := repo.FindPendingArrivalByPlate(ctx, "AP07TA4050", t0.Add(31*time.Minute)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after buffer, got %v", err)
	}
}

func TestFindByAccountIncludesAnonymousManagedPlates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Bookings()

	own := booking("own", "A1", "KA01AB1234", t0, t0.Add(time.Hour), domain.BookingPendingArrival)
	own.AccountID = null.StringFrom("acc-1")
	anon := booking("anon", "A2", "AP-07-TA-4050", t0, t0.Add(time.Hour), domain.BookingActive)
	other := booking("other", "A3", "TN10ZZ0001", t0, t0.Add(time.Hour), domain.BookingActive)
	foreign := booking("foreign", "A4", "AP07TA4050", t0.Add(2*time.Hour), t0.Add(3*time.Hour), domain.BookingPendingArrival)
	foreign.AccountID = null.StringFrom("acc-2")
	for _, b := range []*domain.Booking{own, anon, other, foreign} {
		if _, err := repo.Create(ctx, b); err != nil {
			t.Fatalf("create %s: %v", b.ID, err)
		}
	}

	got, err := repo.FindByAccount(ctx, "acc-1", []string{"AP07TA4050"})
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, b := range got {
		ids[b.ID] = true
	}
	if len(got) != 2 || !ids["own"] || !ids["anon"] {
		t.Fatalf("unexpected bookings: %v", ids)
	}
}

func TestAccountPlateLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	accounts := s.Accounts()

	acc := &domain.Account{ID: "acc-1", Vehicles: []domain.Vehicle{{PlateNumber: "KA-01-AB-1234", Type: domain.VehicleCar}}}
	if _, err := accounts.Create(ctx, acc); err != nil {
		t.Fatal(err)
	}

	got, err := accounts.FindByPlate(ctx, "ka01ab1234")
	if err != nil || got.ID != "acc-1" {
		t.Fatalf("expected acc-1, got %v (%v)", got, err)
	}
	if _, err := accounts.FindByPlate(ctx, "AP07TA4050"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := accounts.AddVehicle(ctx, "acc-1", domain.Vehicle{PlateNumber: "AP07TA4050"}); err != nil {
		t.Fatal(err)
	}
	// Second add of the same plate in another spelling is a no-op.
	if err := accounts.AddVehicle(ctx, "acc-1", domain.Vehicle{PlateNumber: "ap 07 ta 4050"}); err != nil {
		t.Fatal(err)
	}
	got, _ = accounts.FindByID(ctx, "acc-1")
	if len(got.Vehicles) != 2 || got.Vehicles[1].Type != domain.VehicleCar {
		t.Fatalf("unexpected vehicles: %+v", got.Vehicles)
	}

	if err := accounts.AddVehicle(ctx, "missing", domain.Vehicle{PlateNumber: "X"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeviceEventsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := &domain.DeviceEventLog{ReceivedAt: t0, DeviceID: "esp32-1", MessageType: "slot_status", Payload: []byte(`{"slot_id":"A1"}`)}
	second := &domain.DeviceEventLog{ReceivedAt: t0, DeviceID: "esp32-1", MessageType: "gate_event"}
	if err := s.DeviceEvents().Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.DeviceEvents().Create(ctx, second); err != nil {
		t.Fatal(err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected sequential ids, got %d, %d", first.ID, second.ID)
	}
}

func TestAccountLegacyManagedCars(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	accounts := s.Accounts()

	if _, err := accounts.Create(ctx, &domain.Account{ID: "acc-legacy", ManagedCars: []string{"MH12DE1433"}}); err != nil {
		t.Fatal(err)
	}
	got, err := accounts.FindByPlate(ctx, "MH-12-DE-1433")
	if err != nil || got.ID != "acc-legacy" {
		t.Fatalf("expected acc-legacy, got %v (%v)", got, err)
	}
	if got.HasVehicle("MH12DE1433") {
		t.Fatal("legacy plate must not count as a registered vehicle")
	}
	if err := accounts.AddVehicle(ctx, "acc-legacy", domain.Vehicle{PlateNumber: "MH12DE1433"}); err != nil {
		t.Fatal(err)
	}
	got, _ = accounts.FindByID(ctx, "acc-legacy")
	if !got.HasVehicle("MH12DE1433") || len(got.ManagedPlates()) != 1 {
		t.Fatalf("unexpected account after AddVehicle: %+v", got)
	}
}
