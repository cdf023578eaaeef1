package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository/boltdb"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []domain.BookingNotification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.BookingNotification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) reminders() []domain.BookingNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BookingNotification
	for _, n := range r.got {
		if n.Kind == domain.NotificationReminder {
			out = append(out, n)
		}
	}
	return out
}

type fakeGate struct {
	mu   sync.Mutex
	cmds []domain.GateCommandPayload
	err  error
}

func (g *fakeGate) OpenGate(_ context.Context, cmd domain.GateCommandPayload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cmds = append(g.cmds, cmd)
	return g.err
}

type harness struct {
	store      *boltdb.Store
	clock      *fakeClock
	notes      *recordingNotifier
	gate       *fakeGate
	bookings   *BookingService
	reconciler *ReconcilerService
	sweeper    *ExpirySweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: t0}
	store, err := boltdb.Open(filepath.Join(t.TempDir(), "parking.db"), boltdb.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notes := &recordingNotifier{}
	gate := &fakeGate{}
	locker := NewKeyedLocker()
	resolver := NewSlotResolver(store.Slots(), map[string]string{"1": "A1", "2": "A2", "3": "A3"})

	h := &harness{
		store:      store,
		clock:      clock,
		notes:      notes,
		gate:       gate,
		bookings:   NewBookingService(store.Slots(), store.Bookings(), store.Accounts(), resolver, locker, notes, clock.Now),
		reconciler: NewReconcilerService(store.Slots(), store.Bookings(), resolver, locker, notes, gate, "3", clock.Now),
		sweeper:    NewExpirySweeper(store.Slots(), store.Bookings(), locker, notes, time.Minute, clock.Now),
	}
	if n, err := h.bookings.SeedSlots(context.Background()); err != nil || n != 18 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	return h
}

func (h *harness) web(t *testing.T, plate, slot string, start, end time.Time) *domain.Booking {
	t.Helper()
	b, err := h.bookings.CreateBooking(context.Background(), CreateBookingInput{
		Plate: plate, SlotID: slot, Start: start, End: end, Source: domain.SourceWeb,
	})
	if err != nil {
		t.Fatalf("create WEB booking %s@%s: %v", plate, slot, err)
	}
	return b
}

func (h *harness) kiosk(t *testing.T, plate, slot string, start, end time.Time) *domain.Booking {
	t.Helper()
	b, err := h.bookings.CreateBooking(context.Background(), CreateBookingInput{
		Plate: plate, SlotID: slot, Start: start, End: end, Source: domain.SourceKiosk,
	})
	if err != nil {
		t.Fatalf("create KIOSK booking %s@%s: %v", plate, slot, err)
	}
	return b
}

func (h *harness) slot(t *testing.T, number string) *domain.ParkingSlot {
	t.Helper()
	s, err := h.store.Slots().FindBySlotNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("find slot %s: %v", number, err)
	}
	return s
}

func (h *harness) booking(t *testing.T, id string) *domain.Booking {
	t.Helper()
	b, err := h.store.Bookings().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find booking %s: %v", id, err)
	}
	return b
}

func (h *harness) signal(t *testing.T, target string, sig domain.OccupancySignal) *domain.OccupancyOutcome {
	t.Helper()
	out, err := h.reconciler.ReportOccupancy(context.Background(), domain.OccupancyReport{TargetID: target, Signal: sig})
	if err != nil {
		t.Fatalf("report %s %s: %v", target, sig, err)
	}
	return out
}
