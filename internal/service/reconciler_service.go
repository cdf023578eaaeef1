package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

// ReconcilerService khớp tín hiệu cảm biến (cổng + từng slot) và biển số nhận
// dạng được với sổ booking.
type ReconcilerService struct {
	slotRepo     repository.ParkingSlotRepository
	bookingRepo  repository.BookingRepository
	resolver     *SlotResolver
	locker       *KeyedLocker
	notifier     Notifier
	gate         GateController // nil = không điều khiển barrier
	gateSensorID string
	now          func() time.Time
}

func NewReconcilerService(
	slotRepo repository.ParkingSlotRepository,
	bookingRepo repository.BookingRepository,
	resolver *SlotResolver,
	locker *KeyedLocker,
	notifier Notifier,
	gate GateController,
	gateSensorID string,
	now func() time.Time,
) *ReconcilerService {
	if now == nil {
		now = time.Now
	}
	return &ReconcilerService{
		slotRepo:     slotRepo,
		bookingRepo:  bookingRepo,
		resolver:     resolver,
		locker:       locker,
		notifier:     orNop(notifier),
		gate:         gate,
		gateSensorID: strings.TrimSpace(gateSensorID),
		now:          now,
	}
}

// ReportOccupancy chuyển tín hiệu tới logic cổng hoặc bảng chuyển trạng thái slot.
// Không tìm thấy booking không phải là lỗi.
func (s *ReconcilerService) ReportOccupancy(ctx context.Context, report domain.OccupancyReport) (*domain.OccupancyOutcome, error) {
	target := strings.TrimSpace(report.TargetID)
	if target == "" {
		return nil, fmt.Errorf("%w: thiếu slot_id", ErrInvalidInput)
	}
	if report.Signal != domain.SignalFree && report.Signal != domain.SignalOccupied {
		return nil, fmt.Errorf("%w: tín hiệu '%s' không hợp lệ", ErrInvalidInput, report.Signal)
	}
	if report.Source == "" {
		report.Source = "sensor"
	}

	// Cảm biến cổng được kiểm tra trước bảng alias
	if s.gateSensorID != "" && target == s.gateSensorID {
		decision, err := s.gateDecision(ctx, report)
		if err != nil {
			return nil, err
		}
		return &domain.OccupancyOutcome{Gate: decision}, nil
	}

	ack, err := s.applySlotSignal(ctx, target, report)
	if err != nil {
		return nil, err
	}
	return &domain.OccupancyOutcome{Slot: ack}, nil
}

func (s *ReconcilerService) gateDecision(ctx context.Context, report domain.OccupancyReport) (*domain.GateDecision, error) {
	if report.Signal == domain.SignalFree {
		return &domain.GateDecision{Status: domain.GateIdle}, nil
	}

	b, err := s.bookingRepo.FindMostRecentLive(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("Reconciler: Cổng %s có xe nhưng không có booking nào đang hiệu lực -> DENY", report.TargetID)
			return &domain.GateDecision{Status: domain.GateDeny}, nil
		}
		return nil, fmt.Errorf("lỗi tìm booking cho cổng: %w", err)
	}

	decision := &domain.GateDecision{Status: domain.GateAllow, BookingID: b.ID, Plate: b.Plate}
	log.Printf("Reconciler: Cổng %s ALLOW booking %s (xe '%s')", report.TargetID, b.ID, b.Plate)
	if s.gate != nil {
		cmd := domain.GateCommandPayload{Command: "open", BookingID: b.ID, Plate: b.Plate, RequestID: uuid.NewString()}
		if err := s.gate.OpenGate(ctx, cmd); err != nil {
			log.Printf("Reconciler: Lỗi gửi lệnh mở cổng cho booking %s: %v", b.ID, err)
		}
	}
	return decision, nil
}

// applySlotSignal: khóa slot, đọc trạng thái, quyết định theo bảng chuyển trạng thái,
// ghi slot bằng compare-and-set; bị đổi giữa chừng thì đọc lại và quyết định lại.
func (s *ReconcilerService) applySlotSignal(ctx context.Context, target string, report domain.OccupancyReport) (*domain.SlotAck, error) {
	slot, err := s.resolver.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	slotNumber := slot.SlotNumber

	unlock := s.locker.Lock(slotKey(slotNumber))
	defer unlock()

	for attempt := 0; attempt < maxSlotWriteAttempts; attempt++ {
		slot, err := s.slotRepo.FindBySlotNumber(ctx, slotNumber)
		if err != nil {
			return nil, fmt.Errorf("lỗi đọc slot %s: %w", slotNumber, err)
		}
		ack, err := s.decideAndWrite(ctx, slot, report)
		if errors.Is(err, repository.ErrStatusMismatch) {
			log.Printf("Reconciler: Slot %s đổi trạng thái trong lúc xử lý (lần %d), đọc lại", slotNumber, attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		if ack.Effect != domain.EffectNone || ack.Slot.Status != slot.Status {
			log.Printf("Reconciler: Slot %s %s + %s -> %s (%s)", slotNumber, slot.Status, report.Signal, ack.Slot.Status, ack.Effect)
		}
		return ack, nil
	}
	return nil, fmt.Errorf("%w: slot %s", repository.ErrStatusMismatch, slotNumber)
}

func (s *ReconcilerService) decideAndWrite(ctx context.Context, slot *domain.ParkingSlot, report domain.OccupancyReport) (*domain.SlotAck, error) {
	now := s.now().UTC()
	tr := domain.SlotTransition(slot.Status, report.Signal)
	ack := &domain.SlotAck{Slot: *slot, Effect: domain.EffectNone}

	switch tr.Effect {
	case domain.EffectNone:
		if !tr.Write {
			return ack, nil
		}
		// AVAILABLE + OCCUPIED: xe vào không có booking
		if err := s.writeSlot(ctx, ack, slot.Status, tr.Next, null.String{}, report.Source); err != nil {
			return nil, err
		}
		return ack, nil

	case domain.EffectCompleteActive:
		active, err := s.findActive(ctx, slot.SlotNumber)
		if err != nil {
			return nil, err
		}
		if active != nil {
			completed, err := s.bookingRepo.UpdateStatus(ctx, active.ID, domain.BookingCompleted, now)
			if err != nil {
				return nil, fmt.Errorf("lỗi hoàn tất booking %s: %w", active.ID, err)
			}
			ack.Effect = tr.Effect
			ack.BookingID, ack.BookingStatus = completed.ID, completed.Status
			s.notifier.Notify(ctx, statusNotification(completed, "vehicle left", now))
		}
		next, link, err := s.freeSlotHolder(ctx, slot.SlotNumber)
		if err != nil {
			return nil, err
		}
		if err := s.writeSlot(ctx, ack, slot.Status, next, link, report.Source); err != nil {
			return nil, err
		}
		return ack, nil

	case domain.EffectActivatePending:
		pending, err := s.findPending(ctx, slot.SlotNumber)
		if err != nil {
			return nil, err
		}
		var link null.String
		if pending != nil {
			link = null.StringFrom(pending.ID)
		}
		// Slot -> OCCUPIED dù có booking hay không
		if err := s.writeSlot(ctx, ack, slot.Status, domain.SlotOccupied, link, report.Source); err != nil {
			return nil, err
		}
		if pending != nil {
			activated, err := s.bookingRepo.UpdateStatus(ctx, pending.ID, domain.BookingActive, now)
			if err != nil {
				return nil, fmt.Errorf("lỗi kích hoạt booking %s: %w", pending.ID, err)
			}
			ack.Effect = tr.Effect
			ack.BookingID, ack.BookingStatus = activated.ID, activated.Status
			s.notifier.Notify(ctx, statusNotification(activated, "vehicle arrived", now))
		}
		return ack, nil

	case domain.EffectResolveReservation:
		pending, err := s.findPending(ctx, slot.SlotNumber)
		if err != nil {
			return nil, err
		}
		outcome := domain.ResolveReservedFree(pending, now)
		if !outcome.Write {
			// buffer còn hạn: giữ RESERVED
			ack.BookingID, ack.BookingStatus = pending.ID, pending.Status
			return ack, nil
		}
		if outcome.CancelBooking {
			cancelled, err := s.bookingRepo.UpdateStatus(ctx, pending.ID, domain.BookingCancelled, now)
			if err != nil {
				return nil, fmt.Errorf("lỗi hủy booking %s quá hạn: %w", pending.ID, err)
			}
			ack.Effect = tr.Effect
			ack.BookingID, ack.BookingStatus = cancelled.ID, cancelled.Status
			s.notifier.Notify(ctx, statusNotification(cancelled, "arrival buffer expired", now))
		}
		next, link, err := s.freeSlotHolder(ctx, slot.SlotNumber)
		if err != nil {
			return nil, err
		}
		if err := s.writeSlot(ctx, ack, slot.Status, next, link, report.Source); err != nil {
			return nil, err
		}
		return ack, nil
	}
	return ack, nil
}

// freeSlotHolder: sau tín hiệu FREE, slot được giữ cho booking chờ kế tiếp
// (RESERVED) nếu có, ngược lại AVAILABLE.
func (s *ReconcilerService) freeSlotHolder(ctx context.Context, slotNumber string) (domain.SlotStatus, null.String, error) {
	pending, err := s.findPending(ctx, slotNumber)
	if err != nil {
		return "", null.String{}, err
	}
	if pending != nil {
		return domain.SlotReserved, null.StringFrom(pending.ID), nil
	}
	return domain.SlotAvailable, null.String{}, nil
}

func (s *ReconcilerService) writeSlot(ctx context.Context, ack *domain.SlotAck, expected, next domain.SlotStatus, link null.String, source string) error {
	if err := s.slotRepo.CompareAndSetStatus(ctx, ack.Slot.SlotNumber, expected, next, link, source); err != nil {
		return err
	}
	now := s.now().UTC()
	ack.Slot.Status = next
	ack.Slot.CurrentBookingID = link
	ack.Slot.LastStatusUpdateSource = source
	ack.Slot.LastEventTimestamp = &now
	return nil
}

func (s *ReconcilerService) findActive(ctx context.Context, slotNumber string) (*domain.Booking, error) {
	b, err := s.bookingRepo.FindActiveForSlot(ctx, slotNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lỗi tìm booking ACTIVE của slot %s: %w", slotNumber, err)
	}
	return b, nil
}

func (s *ReconcilerService) findPending(ctx context.Context, slotNumber string) (*domain.Booking, error) {
	b, err := s.bookingRepo.FindPendingForSlot(ctx, slotNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lỗi tìm booking PENDING_ARRIVAL của slot %s: %w", slotNumber, err)
	}
	return b, nil
}

// RecognizeEntry khớp biển số (camera/kiosk) với booking PENDING_ARRIVAL còn trong buffer.
// Không khớp không phải là lỗi, caller tự quyết định bước tiếp theo.
func (s *ReconcilerService) RecognizeEntry(ctx context.Context, plate string) (*domain.EntryMatch, error) {
	if strings.TrimSpace(plate) == "" {
		return nil, fmt.Errorf("%w: thiếu biển số xe", ErrInvalidInput)
	}
	now := s.now().UTC()

	// 1. Tìm booking chờ xe tới
	candidate, err := s.bookingRepo.FindPendingArrivalByPlate(ctx, plate, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("Reconciler: Không có booking chờ cho xe '%s'", plate)
			return &domain.EntryMatch{Matched: false}, nil
		}
		return nil, fmt.Errorf("lỗi tìm booking theo biển số: %w", err)
	}

	// 2. Khóa slot + xe, đọc lại booking
	unlock := s.locker.Lock(slotKey(candidate.SlotNumber), plateKey(domain.NormalizePlate(candidate.Plate)))
	defer unlock()
	b, err := s.bookingRepo.FindByID(ctx, candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("lỗi đọc lại booking %s: %w", candidate.ID, err)
	}
	if b.Status != domain.BookingPendingArrival || b.BufferPassed(now) {
		return &domain.EntryMatch{Matched: false}, nil
	}

	// 3. Kích hoạt booking
	activated, err := s.bookingRepo.UpdateStatus(ctx, b.ID, domain.BookingActive, now)
	if err != nil {
		return nil, fmt.Errorf("lỗi kích hoạt booking %s: %w", b.ID, err)
	}

	// 4. Slot -> OCCUPIED
	if err := s.slotRepo.UpdateStatus(ctx, activated.SlotNumber, domain.SlotOccupied, null.StringFrom(activated.ID), "lpr_entry"); err != nil {
		log.Printf("Reconciler: Lỗi cập nhật slot %s khi xe '%s' vào: %v", activated.SlotNumber, plate, err)
	}
	log.Printf("Reconciler: Xe '%s' vào bãi, booking %s -> ACTIVE (slot %s)", plate, activated.ID, activated.SlotNumber)
	s.notifier.Notify(ctx, statusNotification(activated, "vehicle entered", now))
	return &domain.EntryMatch{Matched: true, BookingID: activated.ID}, nil
}
