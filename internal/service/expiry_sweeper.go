package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

const DefaultSweepInterval = time.Minute

// SweepResult đếm những gì một lượt quét đã làm.
type SweepResult struct {
	Cancelled int
	Reminders int
	Failed    int
}

// ExpirySweeper cancels WEB bookings whose arrival buffer ran out and sends
// the 15/10/5 minute reminders before that. A second pass right after the
// first is a no-op.
type ExpirySweeper struct {
	slotRepo    repository.ParkingSlotRepository
	bookingRepo repository.BookingRepository
	locker      *KeyedLocker
	notifier    Notifier
	interval    time.Duration
	now         func() time.Time
}

func NewExpirySweeper(
	slotRepo repository.ParkingSlotRepository,
	bookingRepo repository.BookingRepository,
	locker *KeyedLocker,
	notifier Notifier,
	interval time.Duration,
	now func() time.Time,
) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	return &ExpirySweeper{
		slotRepo:    slotRepo,
		bookingRepo: bookingRepo,
		locker:      locker,
		notifier:    orNop(notifier),
		interval:    interval,
		now:         now,
	}
}

// Run quét ngay một lần rồi lặp theo interval cho tới khi ctx bị hủy.
func (s *ExpirySweeper) Run(ctx context.Context) {
	log.Printf("ExpirySweeper: Bắt đầu, chu kỳ %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepExpired(ctx); err != nil {
			log.Printf("ExpirySweeper: Lỗi quét booking: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Println("ExpirySweeper: Dừng.")
			return
		case <-ticker.C:
		}
	}
}

// SweepExpired xử lý từng booking độc lập; lỗi của một booking chỉ được log.
func (s *ExpirySweeper) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	pending, err := s.bookingRepo.FindPendingWithBuffer(ctx)
	if err != nil {
		return res, fmt.Errorf("lỗi lấy danh sách booking chờ: %w", err)
	}
	now := s.now().UTC()
	for _, b := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.sweepOne(ctx, b, now, &res); err != nil {
			res.Failed++
			log.Printf("ExpirySweeper: Lỗi xử lý booking %s: %v", b.ID, err)
		}
	}
	if res.Cancelled > 0 || res.Reminders > 0 {
		log.Printf("ExpirySweeper: Đã hủy %d booking quá hạn, gửi %d nhắc nhở", res.Cancelled, res.Reminders)
	}
	return res, nil
}

func (s *ExpirySweeper) sweepOne(ctx context.Context, listed domain.Booking, now time.Time, res *SweepResult) error {
	unlock := s.locker.Lock(slotKey(listed.SlotNumber))
	defer unlock()

	// Đọc lại dưới khóa: booking có thể vừa được kích hoạt hoặc hủy
	b, err := s.bookingRepo.FindByID(ctx, listed.ID)
	if err != nil {
		return err
	}
	if b.Status != domain.BookingPendingArrival || !b.BufferExpiry.Valid {
		return nil
	}

	remaining := b.BufferExpiry.Time.Sub(now)
	if remaining <= 0 {
		cancelled, err := s.bookingRepo.UpdateStatus(ctx, b.ID, domain.BookingCancelled, now)
		if err != nil {
			return fmt.Errorf("lỗi hủy booking: %w", err)
		}
		res.Cancelled++
		if err := releaseSlot(ctx, s.slotRepo, s.bookingRepo, cancelled.SlotNumber, cancelled.ID, "expiry_sweeper"); err != nil {
			log.Printf("ExpirySweeper: Lỗi giải phóng slot %s của booking %s: %v", cancelled.SlotNumber, cancelled.ID, err)
		}
		log.Printf("ExpirySweeper: Booking %s (xe '%s') quá hạn buffer, đã hủy", cancelled.ID, cancelled.Plate)
		s.notifier.Notify(ctx, statusNotification(cancelled, "arrival buffer expired", now))
		return nil
	}

	for _, th := range domain.ReminderSchedule {
		if remaining > th.Remaining || b.HasNotification(th.Kind) {
			continue
		}
		// Đánh dấu trước, chỉ gửi khi lần ghi này thực sự thêm marker
		added, err := s.bookingRepo.AppendNotification(ctx, b.ID, th.Kind)
		if err != nil {
			return fmt.Errorf("lỗi đánh dấu nhắc nhở %s: %w", th.Kind, err)
		}
		if !added {
			continue
		}
		res.Reminders++
		s.notifier.Notify(ctx, domain.BookingNotification{
			Kind:       domain.NotificationReminder,
			BookingID:  b.ID,
			SlotNumber: b.SlotNumber,
			Plate:      b.Plate,
			Reminder:   th.Kind,
			Status:     b.Status,
			Message:    fmt.Sprintf("còn %d phút để tới bãi", int(remaining.Round(time.Minute)/time.Minute)),
			Timestamp:  now,
		})
	}
	return nil
}
