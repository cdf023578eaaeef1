package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

// maxSlotWriteAttempts: số lần tối đa đọc lại và quyết định lại quanh CompareAndSetStatus
const maxSlotWriteAttempts = 5

// slotHolder suy ra trạng thái slot từ các booking còn hiệu lực: có booking ACTIVE thì
// OCCUPIED, không thì booking PENDING_ARRIVAL sớm nhất giữ RESERVED, còn lại AVAILABLE.
func slotHolder(ctx context.Context, bookingRepo repository.BookingRepository, slotNumber string) (domain.SlotStatus, null.String, error) {
	active, err := bookingRepo.FindActiveForSlot(ctx, slotNumber)
	if err == nil {
		return domain.SlotOccupied, null.StringFrom(active.ID), nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", null.String{}, fmt.Errorf("lỗi tìm booking ACTIVE của slot %s: %w", slotNumber, err)
	}
	pending, err := bookingRepo.FindPendingForSlot(ctx, slotNumber)
	if err == nil {
		return domain.SlotReserved, null.StringFrom(pending.ID), nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", null.String{}, fmt.Errorf("lỗi tìm booking PENDING_ARRIVAL của slot %s: %w", slotNumber, err)
	}
	return domain.SlotAvailable, null.String{}, nil
}

// releaseSlot chạy sau khi booking releasedID kết thúc. Slot đang trỏ tới booking khác,
// hoặc có xe mà không gắn booking, được giữ nguyên; ngược lại tính lại từ các booking còn lại.
func releaseSlot(ctx context.Context, slotRepo repository.ParkingSlotRepository, bookingRepo repository.BookingRepository, slotNumber, releasedID, source string) error {
	for attempt := 0; attempt < maxSlotWriteAttempts; attempt++ {
		slot, err := slotRepo.FindBySlotNumber(ctx, slotNumber)
		if err != nil {
			return fmt.Errorf("lỗi đọc slot %s: %w", slotNumber, err)
		}
		if slot.CurrentBookingID.Valid && slot.CurrentBookingID.String != releasedID {
			return nil
		}
		if !slot.CurrentBookingID.Valid && slot.Status == domain.SlotOccupied {
			return nil
		}

		next, link, err := slotHolder(ctx, bookingRepo, slotNumber)
		if err != nil {
			return err
		}
		if next == slot.Status && link == slot.CurrentBookingID {
			return nil
		}
		err = slotRepo.CompareAndSetStatus(ctx, slotNumber, slot.Status, next, link, source)
		if errors.Is(err, repository.ErrStatusMismatch) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: slot %s thay đổi liên tục, bỏ qua", repository.ErrStatusMismatch, slotNumber)
}

func statusNotification(b *domain.Booking, msg string, at time.Time) domain.BookingNotification {
	return domain.BookingNotification{
		Kind:       domain.NotificationStatusChanged,
		BookingID:  b.ID,
		SlotNumber: b.SlotNumber,
		Plate:      b.Plate,
		Status:     b.Status,
		Message:    msg,
		Timestamp:  at,
	}
}
