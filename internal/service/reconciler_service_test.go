package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gopkg.in/guregu/null.v4"

	"parking_reservation/internal/domain"
)

func TestGateDecisions(t *testing.T) {
	t.Run("deny without live booking", func(t *testing.T) {
		h := newHarness(t)
		out := h.signal(t, "3", domain.SignalOccupied)
		if out.Gate == nil || out.Gate.Status != domain.GateDeny {
			t.Fatalf("outcome = %+v, want DENY", out)
		}
		if len(h.gate.cmds) != 0 {
			t.Fatalf("gate opened on DENY")
		}
	})

	t.Run("idle on free", func(t *testing.T) {
		h := newHarness(t)
		h.web(t, "AP07TA4050", "A1", t0, t0.Add(time.Hour))
		out := h.signal(t, "3", domain.SignalFree)
		if out.Gate == nil || out.Gate.Status != domain.GateIdle {
			t.Fatalf("outcome = %+v, want IDLE", out)
		}
	})

	t.Run("allow opens gate", func(t *testing.T) {
		h := newHarness(t)
		b := h.web(t, "AP07TA4050", "A1", t0, t0.Add(time.Hour))
		out := h.signal(t, "3", domain.SignalOccupied)
		if out.Gate == nil || out.Gate.Status != domain.GateAllow || out.Gate.BookingID != b.ID {
			t.Fatalf("outcome = %+v, want ALLOW for %s", out.Gate, b.ID)
		}
		if len(h.gate.cmds) != 1 || h.gate.cmds[0].Command != "open" || h.gate.cmds[0].BookingID != b.ID {
			t.Fatalf("gate commands = %+v", h.gate.cmds)
		}
	})

	t.Run("gate controller failure still allows", func(t *testing.T) {
		h := newHarness(t)
		h.gate.err = errors.New("mqtt down")
		h.web(t, "AP07TA4050", "A1", t0, t0.Add(time.Hour))
		out := h.signal(t, "3", domain.SignalOccupied)
		if out.Gate.Status != domain.GateAllow {
			t.Fatalf("status = %s, want ALLOW", out.Gate.Status)
		}
	})

	t.Run("gate id wins over alias", func(t *testing.T) {
		h := newHarness(t)
		out := h.signal(t, "3", domain.SignalOccupied)
		if out.Slot != nil {
			t.Fatalf("gate reading applied to a slot: %+v", out.Slot)
		}
		if slot := h.slot(t, "A3"); slot.Status != domain.SlotAvailable {
			t.Fatalf("A3 = %s, want AVAILABLE", slot.Status)
		}
	})
}

func TestSlotSignalTable(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, h *harness) *domain.Booking
		at          time.Duration
		signal      domain.OccupancySignal
		wantSlot    domain.SlotStatus
		wantEffect  domain.BookingEffect
		wantBooking domain.BookingStatus
	}{
		{
			name:     "available + occupied",
			setup:    func(t *testing.T, h *harness) *domain.Booking { return nil },
			signal:   domain.SignalOccupied,
			wantSlot: domain.SlotOccupied, wantEffect: domain.EffectNone,
		},
		{
			name:     "available + free",
			setup:    func(t *testing.T, h *harness) *domain.Booking { return nil },
			signal:   domain.SignalFree,
			wantSlot: domain.SlotAvailable, wantEffect: domain.EffectNone,
		},
		{
			name: "occupied + free completes active booking",
			setup: func(t *testing.T, h *harness) *domain.Booking {
				return h.kiosk(t, "MH12DE1433", "A1", t0, t0.Add(time.Hour))
			},
			at:       40 * time.Minute,
			signal:   domain.SignalFree,
			wantSlot: domain.SlotAvailable, wantEffect: domain.EffectCompleteActive, wantBooking: domain.BookingCompleted,
		},
		{
			name: "occupied + free without booking",
			setup: func(t *testing.T, h *harness) *domain.Booking {
				h.signal(t, "A1", domain.SignalOccupied)
				return nil
			},
			signal:   domain.SignalFree,
			wantSlot: domain.SlotAvailable, wantEffect: domain.EffectNone,
		},
		{
			name: "occupied + occupied",
			setup: func(t *testing.T, h *harness) *domain.Booking {
				return h.kiosk(t, "MH12DE1433", "A1", t0, t0.Add(time.Hour))
			},
			signal:   domain.SignalOccupied,
			wantSlot: domain.SlotOccupied, wantEffect: domain.EffectNone, wantBooking: domain.BookingActive,
		},
		{
			name: "reserved + occupied activates booking",
			setup: func(t *testing.T, h *harness) *domain.Booking {
				return h.web(t, "AP07TA4050", "A1", t0, t0.Add(time.Hour))
			},
			at:       10 * time.Minute,
			signal:   domain.SignalOccupied,
			wantSlot: domain.SlotOccupied, wantEffect: domain.EffectActivatePending, wantBooking: domain.BookingActive,
		},
		{
			name: "reserved + free inside buffer",
			setup: func(t *testing.T, h *harness) *domain.Booking {
				return h.web(t, "AP07TA4050", "A1", t0, t0.Add(time.Hour))
			},
			at:       30 * time.Minute,
			signal:   domain.SignalFree,
			wantSlot: domain.SlotReserved, wantEffect: domain.EffectNone, wantBooking: domain.BookingPendingArrival,
		},
		{
			name: "reserved + free after buffer cancels",
			setup: func(t *testing.T, h *harness) *domain.Booking {
				return h.web(t, "AP07TA4050", "A1", t0, t0.Add(time.Hour))
			},
			at:       31 * time.Minute,
			signal:   domain.SignalFree,
			wantSlot: domain.SlotAvailable, wantEffect: domain.EffectResolveReservation, wantBooking: domain.BookingCancelled,
		},
		{
			name: "reserved + free with stale reservation",
			setup: func(t *testing.T, h *harness) *domain.Booking {
				if err := h.store.Slots().UpdateStatus(context.Background(), "A1", domain.SlotReserved, null.String{}, "test"); err != nil {
					t.Fatalf("seed stale reservation: %v", err)
				}
				return nil
			},
			signal:   domain.SignalFree,
			wantSlot: domain.SlotAvailable, wantEffect: domain.EffectNone,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			b := tc.setup(t, h)
			h.clock.Set(t0.Add(tc.at))

			out := h.signal(t, "A1", tc.signal)
			if out.Slot == nil {
				t.Fatalf("no slot ack: %+v", out)
			}
			if out.Slot.Slot.Status != tc.wantSlot || out.Slot.Effect != tc.wantEffect {
				t.Fatalf("ack = %s/%s, want %s/%s", out.Slot.Slot.Status, out.Slot.Effect, tc.wantSlot, tc.wantEffect)
			}
			if stored := h.slot(t, "A1"); stored.Status != tc.wantSlot {
				t.Fatalf("stored slot = %s, want %s", stored.Status, tc.wantSlot)
			}
			if b != nil {
				if got := h.booking(t, b.ID); got.Status != tc.wantBooking {
					t.Fatalf("booking = %s, want %s", got.Status, tc.wantBooking)
				}
			}
		})
	}
}

func TestSlotSignalSideEffects(t *testing.T) {
	t.Run("completion stamps actual end", func(t *testing.T) {
		h := newHarness(t)
		b := h.kiosk(t, "MH12DE1433", "A1", t0, t0.Add(time.Hour))
		h.clock.Set(t0.Add(50 * time.Minute))
		out := h.signal(t, "A1", domain.SignalFree)

		got := h.booking(t, b.ID)
		if !got.ActualEndTime.Valid || !got.ActualEndTime.Time.Equal(t0.Add(50*time.Minute)) {
			t.Fatalf("actual end = %v", got.ActualEndTime)
		}
		if out.Slot.BookingID != b.ID || out.Slot.Slot.CurrentBookingID.Valid {
			t.Fatalf("ack = %+v", out.Slot)
		}
	})

	t.Run("activation links slot", func(t *testing.T) {
		h := newHarness(t)
		b := h.web(t, "AP07TA4050", "A1", t0, t0.Add(time.Hour))
		h.clock.Set(t0.Add(12 * time.Minute))
		h.signal(t, "1", domain.SignalOccupied)

		got := h.booking(t, b.ID)
		if !got.ActualStartTime.Valid || !got.ActualStartTime.Time.Equal(t0.Add(12*time.Minute)) {
			t.Fatalf("actual start = %v", got.ActualStartTime)
		}
		if slot := h.slot(t, "A1"); slot.CurrentBookingID.String != b.ID {
			t.Fatalf("slot linked to %v", slot.CurrentBookingID)
		}
	})

	t.Run("departure hands slot to next pending booking", func(t *testing.T) {
		h := newHarness(t)
		active := h.kiosk(t, "MH12DE1433", "A1", t0, t0.Add(time.Hour))
		next := h.web(t, "AP07TA4050", "A1", t0.Add(time.Hour), t0.Add(2*time.Hour))

		h.signal(t, "A1", domain.SignalFree)

		if got := h.booking(t, active.ID); got.Status != domain.BookingCompleted {
			t.Fatalf("active booking = %s", got.Status)
		}
		slot := h.slot(t, "A1")
		if slot.Status != domain.SlotReserved || slot.CurrentBookingID.String != next.ID {
			t.Fatalf("slot A1 = %s / %v, want RESERVED for %s", slot.Status, slot.CurrentBookingID, next.ID)
		}
	})

	t.Run("repeated free is a no-op", func(t *testing.T) {
		h := newHarness(t)
		h.kiosk(t, "MH12DE1433", "A1", t0, t0.Add(time.Hour))
		h.signal(t, "A1", domain.SignalFree)
		before := len(h.notes.got)
		out := h.signal(t, "A1", domain.SignalFree)
		if out.Slot.Effect != domain.EffectNone || len(h.notes.got) != before {
			t.Fatalf("second FREE changed something: %+v", out.Slot)
		}
	})
}

func TestReportOccupancyRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.reconciler.ReportOccupancy(ctx, domain.OccupancyReport{TargetID: "Z9", Signal: domain.SignalFree}); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("unknown slot: err = %v", err)
	}
	if _, err := h.reconciler.ReportOccupancy(ctx, domain.OccupancyReport{TargetID: " ", Signal: domain.SignalFree}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty target: err = %v", err)
	}
	if _, err := h.reconciler.ReportOccupancy(ctx, domain.OccupancyReport{TargetID: "A1", Signal: "MAYBE"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad signal: err = %v", err)
	}
}

func TestRecognizeEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("match activates booking", func(t *testing.T) {
		h := newHarness(t)
		b := h.web(t, "KA01AB1234", "A2", t0, t0.Add(time.Hour))
		h.clock.Set(t0.Add(20 * time.Minute))

		match, err := h.reconciler.RecognizeEntry(ctx, "ka01 ab 1234")
		if err != nil {
			t.Fatalf("recognize: %v", err)
		}
		if !match.Matched || match.BookingID != b.ID {
			t.Fatalf("match = %+v", match)
		}
		if got := h.booking(t, b.ID); got.Status != domain.BookingActive {
			t.Fatalf("booking = %s", got.Status)
		}
		if slot := h.slot(t, "A2"); slot.Status != domain.SlotOccupied || slot.CurrentBookingID.String != b.ID {
			t.Fatalf("slot A2 = %s / %v", slot.Status, slot.CurrentBookingID)
		}
	})

	t.Run("unknown plate", func(t *testing.T) {
		h := newHarness(t)
		h.web(t, "KA01AB1234", "A2", t0, t0.Add(time.Hour))
		match, err := h.reconciler.RecognizeEntry(ctx, "MH12DE1433")
		if err != nil || match.Matched {
			t.Fatalf("match = %+v, err = %v", match, err)
		}
	})

	t.Run("buffer passed", func(t *testing.T) {
		h := newHarness(t)
		b := h.web(t, "KA01AB1234", "A2", t0, t0.Add(time.Hour))
		h.clock.Set(t0.Add(BufferWindow + time.Second))
		match, err := h.reconciler.RecognizeEntry(ctx, "KA01AB1234")
		if err != nil || match.Matched {
			t.Fatalf("match = %+v, err = %v", match, err)
		}
		if got := h.booking(t, b.ID); got.Status != domain.BookingPendingArrival {
			t.Fatalf("booking = %s", got.Status)
		}
	})

	t.Run("empty plate", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.reconciler.RecognizeEntry(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("err = %v", err)
		}
	})
}
