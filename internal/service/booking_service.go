package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

// CreateBookingInput là tham số tạo booking. AccountID rỗng = booking ẩn danh (kiosk).
type CreateBookingInput struct {
	AccountID string
	Plate     string
	SlotID    string
	Start     time.Time
	End       time.Time
	Source    domain.BookingSource
}

// Mã xung đột trả về từ CheckAvailability
const (
	ConflictSlot    = "SLOT_CONFLICT"
	ConflictVehicle = "VEHICLE_CONFLICT"
)

type BookingService struct {
	slotRepo    repository.ParkingSlotRepository
	bookingRepo repository.BookingRepository
	accountRepo repository.AccountRepository
	resolver    *SlotResolver
	locker      *KeyedLocker
	notifier    Notifier
	now         func() time.Time
}

func NewBookingService(
	slotRepo repository.ParkingSlotRepository,
	bookingRepo repository.BookingRepository,
	accountRepo repository.AccountRepository,
	resolver *SlotResolver,
	locker *KeyedLocker,
	notifier Notifier,
	now func() time.Time,
) *BookingService {
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		slotRepo:    slotRepo,
		bookingRepo: bookingRepo,
		accountRepo: accountRepo,
		resolver:    resolver,
		locker:      locker,
		notifier:    orNop(notifier),
		now:         now,
	}
}

func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*domain.Booking, error) {
	now := s.now().UTC()
	plate := strings.TrimSpace(in.Plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: thiếu biển số xe", ErrInvalidInput)
	}
	source := in.Source
	if source == "" {
		source = domain.SourceWeb
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: nguồn booking '%s' không hỗ trợ", ErrInvalidInput, in.Source)
	}

	// 1. Khung giờ: end > start, start không quá khứ (cho phép lùi GraceWindow)
	if !in.End.After(in.Start) {
		return nil, fmt.Errorf("%w: thời gian kết thúc phải sau thời gian bắt đầu", ErrInvalidWindow)
	}
	if in.Start.Before(now.Add(-GraceWindow)) {
		return nil, fmt.Errorf("%w: thời gian bắt đầu không được ở quá khứ", ErrInvalidWindow)
	}

	// 2. Slot
	slot, err := s.resolver.Resolve(ctx, in.SlotID)
	if err != nil {
		return nil, err
	}

	norm := domain.NormalizePlate(plate)
	unlock := s.locker.Lock(slotKey(slot.SlotNumber), plateKey(norm))
	defer unlock()

	// 3 + 4. Trùng lịch theo slot, rồi theo xe
	window := domain.Window{Start: in.Start.UTC(), End: in.End.UTC()}
	if err := s.checkConflicts(ctx, slot.SlotNumber, plate, window, ""); err != nil {
		return nil, err
	}

	// 5. Tự liên kết booking ẩn danh với tài khoản quản lý biển số này (chỉ tra cứu, ghi sau commit)
	accountID := null.NewString(in.AccountID, in.AccountID != "")
	var linked *domain.Account
	if !accountID.Valid {
		linked = s.findPlateOwner(ctx, plate)
		if linked != nil {
			accountID = null.StringFrom(linked.ID)
		}
	}

	// 6 + 7. Giá và trạng thái ban đầu
	booking := &domain.Booking{
		ID:                uuid.NewString(),
		AccountID:         accountID,
		Source:            source,
		Plate:             plate,
		PlateNormalized:   norm,
		SlotNumber:        slot.SlotNumber,
		StartTime:         window.Start,
		EndTime:           window.End,
		NotificationsSent: []domain.ReminderKind{},
		TotalCost:         Cost(window.Duration()),
	}
	if source == domain.SourceKiosk {
		booking.Status = domain.BookingActive
		booking.ActualStartTime = null.TimeFrom(now)
	} else {
		booking.Status = domain.BookingPendingArrival
		booking.BufferExpiry = null.TimeFrom(now.Add(BufferWindow))
	}

	// 8. Lưu booking rồi giữ slot
	created, err := s.bookingRepo.Create(ctx, booking)
	if err != nil {
		return nil, mapOverlap(err)
	}
	if err := s.holdSlot(ctx, slot.SlotNumber, created); err != nil {
		// Booking đã được lưu; không rollback, chỉ log (giống cách xử lý lỗi cập nhật slot trước đây)
		log.Printf("BookingService: Lỗi cập nhật slot %s cho booking %s: %v", slot.SlotNumber, created.ID, err)
	}
	log.Printf("BookingService: Đã tạo booking %s (%s) cho xe '%s' tại slot %s [%s - %s], phí %.2f",
		created.ID, created.Source, created.Plate, created.SlotNumber,
		created.StartTime.Format(time.RFC3339), created.EndTime.Format(time.RFC3339), created.TotalCost)

	if linked != nil {
		s.attachVehicle(ctx, linked, plate)
	}
	s.notifier.Notify(ctx, statusNotification(created, "booking created", now))
	return created, nil
}

// checkConflicts kiểm tra trùng lịch theo slot rồi theo xe; excludeID bỏ qua booking đang được gia hạn.
func (s *BookingService) checkConflicts(ctx context.Context, slotNumber, plate string, window domain.Window, excludeID string) error {
	bySlot, err := s.bookingRepo.FindOverlappingBySlot(ctx, slotNumber, window, domain.LiveStatuses)
	if err != nil {
		return fmt.Errorf("lỗi kiểm tra trùng lịch slot: %w", err)
	}
	for _, b := range bySlot {
		if b.ID != excludeID {
			return fmt.Errorf("%w: slot %s (booking %s)", ErrSlotConflict, slotNumber, b.ID)
		}
	}

	byPlate, err := s.bookingRepo.FindOverlappingByPlate(ctx, plate, window, domain.LiveStatuses)
	if err != nil {
		return fmt.Errorf("lỗi kiểm tra trùng lịch xe: %w", err)
	}
	for _, b := range byPlate {
		if b.ID != excludeID {
			return fmt.Errorf("%w: xe %s (booking %s)", ErrVehicleConflict, plate, b.ID)
		}
	}
	return nil
}

func mapOverlap(err error) error {
	switch {
	case errors.Is(err, repository.ErrSlotOverlap):
		return fmt.Errorf("%w: %v", ErrSlotConflict, err)
	case errors.Is(err, repository.ErrPlateOverlap):
		return fmt.Errorf("%w: %v", ErrVehicleConflict, err)
	}
	return fmt.Errorf("lỗi lưu booking: %w", err)
}

// holdSlot: KIOSK -> OCCUPIED; WEB -> RESERVED, trừ khi slot đang OCCUPIED (xe khác còn trong slot).
func (s *BookingService) holdSlot(ctx context.Context, slotNumber string, b *domain.Booking) error {
	if b.Source == domain.SourceKiosk {
		return s.slotRepo.UpdateStatus(ctx, slotNumber, domain.SlotOccupied, null.StringFrom(b.ID), "booking_kiosk")
	}
	for attempt := 0; attempt < maxSlotWriteAttempts; attempt++ {
		slot, err := s.slotRepo.FindBySlotNumber(ctx, slotNumber)
		if err != nil {
			return err
		}
		if slot.Status == domain.SlotOccupied {
			log.Printf("BookingService: Slot %s đang có xe, giữ OCCUPIED; booking %s chờ tới lượt", slotNumber, b.ID)
			return nil
		}
		// Slot luôn trỏ tới booking chờ bắt đầu sớm nhất
		link := b.ID
		if earliest, err := s.bookingRepo.FindPendingForSlot(ctx, slotNumber); err == nil {
			link = earliest.ID
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if slot.Status == domain.SlotReserved && slot.CurrentBookingID.Valid && slot.CurrentBookingID.String == link {
			return nil
		}
		err = s.slotRepo.CompareAndSetStatus(ctx, slotNumber, slot.Status, domain.SlotReserved, null.StringFrom(link), "booking_web")
		if errors.Is(err, repository.ErrStatusMismatch) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: slot %s", repository.ErrStatusMismatch, slotNumber)
}

// findPlateOwner không bao giờ làm hỏng booking: lỗi tra cứu chỉ log và coi như không có chủ.
func (s *BookingService) findPlateOwner(ctx context.Context, plate string) *domain.Account {
	if s.accountRepo == nil {
		return nil
	}
	account, err := s.accountRepo.FindByPlate(ctx, plate)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("BookingService: Lỗi tra cứu tài khoản theo biển số '%s': %v", plate, err)
		}
		return nil
	}
	return account
}

// attachVehicle: nửa sau commit của việc tự liên kết, thêm xe vào tài khoản
func (s *BookingService) attachVehicle(ctx context.Context, account *domain.Account, plate string) {
	if account.HasVehicle(plate) {
		return
	}
	vehicle := domain.Vehicle{PlateNumber: domain.NormalizePlate(plate), Type: domain.VehicleCar}
	if err := s.accountRepo.AddVehicle(ctx, account.ID, vehicle); err != nil {
		log.Printf("BookingService: Không thể thêm xe '%s' vào tài khoản %s: %v", plate, account.ID, err)
		return
	}
	log.Printf("BookingService: Đã thêm xe '%s' vào tài khoản %s", vehicle.PlateNumber, account.ID)
}

// lockBooking đọc booking, khóa slot + xe rồi đọc lại, để caller quyết định
// dựa trên trạng thái thấy được dưới khóa.
func (s *BookingService) lockBooking(ctx context.Context, id string) (*domain.Booking, func(), error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.locker.Lock(slotKey(b.SlotNumber), plateKey(domain.NormalizePlate(b.Plate)))
	b, err = s.GetBooking(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return b, unlock, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, unlock, err := s.lockBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if b.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: booking %s đang ở trạng thái %s", ErrAlreadyTerminal, b.ID, b.Status)
	}
	now := s.now().UTC()
	cancelled, err := s.bookingRepo.UpdateStatus(ctx, b.ID, domain.BookingCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("lỗi hủy booking %s: %w", b.ID, err)
	}
	if err := releaseSlot(ctx, s.slotRepo, s.bookingRepo, cancelled.SlotNumber, cancelled.ID, "booking_cancel"); err != nil {
		log.Printf("BookingService: Lỗi giải phóng slot %s sau khi hủy booking %s: %v", cancelled.SlotNumber, cancelled.ID, err)
	}
	log.Printf("BookingService: Đã hủy booking %s (slot %s)", cancelled.ID, cancelled.SlotNumber)
	s.notifier.Notify(ctx, statusNotification(cancelled, "booking cancelled", now))
	return cancelled, nil
}

// ExtendBooking lùi giờ kết thúc thêm extraHours và tính thêm extraHours*RatePerHour.
// Khung giờ mới được kiểm tra trùng lịch lại với các booking khác của slot và của xe.
func (s *BookingService) ExtendBooking(ctx context.Context, id string, extraHours float64) (*domain.Booking, error) {
	if extraHours <= 0 || math.IsNaN(extraHours) || math.IsInf(extraHours, 0) {
		return nil, fmt.Errorf("%w: số giờ gia hạn phải lớn hơn 0", ErrInvalidWindow)
	}
	if extraHours > MaxExtensionHours {
		return nil, fmt.Errorf("%w: mỗi lần gia hạn tối đa %d giờ", ErrInvalidWindow, MaxExtensionHours)
	}
	b, unlock, err := s.lockBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !b.Status.IsLive() {
		return nil, fmt.Errorf("%w: không thể gia hạn booking %s", ErrInvalidState, b.Status)
	}

	newEnd := b.EndTime.Add(time.Duration(extraHours * float64(time.Hour)))
	if !newEnd.After(b.EndTime) {
		return nil, fmt.Errorf("%w: giờ kết thúc mới phải sau %s", ErrInvalidWindow, b.EndTime.Format(time.RFC3339))
	}
	widened := domain.Window{Start: b.StartTime, End: newEnd}
	if err := s.checkConflicts(ctx, b.SlotNumber, b.Plate, widened, b.ID); err != nil {
		return nil, err
	}

	extended, err := s.bookingRepo.Extend(ctx, b.ID, newEnd, ExtensionCost(extraHours))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, mapOverlap(err)
	}
	log.Printf("BookingService: Gia hạn booking %s thêm %.2f giờ, kết thúc mới %s, tổng phí %.2f",
		extended.ID, extraHours, extended.EndTime.Format(time.RFC3339), extended.TotalCost)
	return extended, nil
}

// CheckAvailability kiểm tra trước (chỉ đọc) theo cùng quy tắc trùng lịch với CreateBooking.
// slotID có thể rỗng, khi đó chỉ kiểm tra xe.
func (s *BookingService) CheckAvailability(ctx context.Context, plate string, start, end time.Time, slotID string) (*domain.Availability, error) {
	if strings.TrimSpace(plate) == "" {
		return nil, fmt.Errorf("%w: thiếu biển số xe", ErrInvalidInput)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: thời gian kết thúc phải sau thời gian bắt đầu", ErrInvalidWindow)
	}
	window := domain.Window{Start: start.UTC(), End: end.UTC()}

	slotNumber := ""
	if slotID != "" {
		slot, err := s.resolver.Resolve(ctx, slotID)
		if err != nil {
			return nil, err
		}
		slotNumber = slot.SlotNumber
	}

	if slotNumber != "" {
		bySlot, err := s.bookingRepo.FindOverlappingBySlot(ctx, slotNumber, window, domain.LiveStatuses)
		if err != nil {
			return nil, fmt.Errorf("lỗi kiểm tra trùng lịch slot: %w", err)
		}
		if len(bySlot) > 0 {
			return &domain.Availability{Available: false, Conflict: ConflictSlot}, nil
		}
	}
	byPlate, err := s.bookingRepo.FindOverlappingByPlate(ctx, plate, window, domain.LiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("lỗi kiểm tra trùng lịch xe: %w", err)
	}
	if len(byPlate) > 0 {
		return &domain.Availability{Available: false, Conflict: ConflictVehicle}, nil
	}
	return &domain.Availability{Available: true}, nil
}

// VerifyAccountPlate chặn người dùng đặt chỗ cho biển số không thuộc tài khoản,
// chỉ khi tài khoản đã đăng ký ít nhất một xe.
func (s *BookingService) VerifyAccountPlate(ctx context.Context, accountID, plate string) error {
	if accountID == "" || s.accountRepo == nil {
		return nil
	}
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lỗi tra cứu tài khoản %s: %w", accountID, err)
	}
	if len(account.ManagedPlates()) == 0 || account.ManagesPlate(plate) {
		return nil
	}
	return fmt.Errorf("%w: '%s'", ErrVehicleNotRegistered, plate)
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.bookingRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
		}
		return nil, fmt.Errorf("lỗi đọc booking %s: %w", id, err)
	}
	return b, nil
}

// ListAccountBookings trả booking của tài khoản và các booking ẩn danh
// trên biển số tài khoản quản lý.
func (s *BookingService) ListAccountBookings(ctx context.Context, accountID string) ([]domain.Booking, error) {
	var plates []string
	if s.accountRepo != nil {
		account, err := s.accountRepo.FindByID(ctx, accountID)
		switch {
		case err == nil:
			plates = account.ManagedPlates()
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("lỗi tra cứu tài khoản %s: %w", accountID, err)
		}
	}
	bookings, err := s.bookingRepo.FindByAccount(ctx, accountID, plates)
	if err != nil {
		return nil, fmt.Errorf("lỗi lấy danh sách booking: %w", err)
	}
	return bookings, nil
}

// ListSlots trả toàn bộ chỗ đỗ. Có window thì slot có booking còn hiệu lực
// trùng window được hiển thị là OCCUPIED cho khung giờ đó.
func (s *BookingService) ListSlots(ctx context.Context, window *domain.Window) ([]domain.SlotView, error) {
	slots, err := s.slotRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("lỗi lấy danh sách chỗ đỗ: %w", err)
	}
	views := make([]domain.SlotView, 0, len(slots))
	for _, slot := range slots {
		view := domain.SlotView{ParkingSlot: slot, AvailableForWindow: slot.Status == domain.SlotAvailable}
		if window != nil {
			overlapping, err := s.bookingRepo.FindOverlappingBySlot(ctx, slot.SlotNumber, *window, domain.LiveStatuses)
			if err != nil {
				return nil, fmt.Errorf("lỗi kiểm tra lịch của slot %s: %w", slot.SlotNumber, err)
			}
			view.AvailableForWindow = len(overlapping) == 0
			if !view.AvailableForWindow {
				view.Status = domain.SlotOccupied
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// SeedSlots tạo danh sách chỗ đỗ mặc định khi chưa có slot nào.
func (s *BookingService) SeedSlots(ctx context.Context) (int, error) {
	n, err := s.slotRepo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("lỗi đếm chỗ đỗ: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	created := 0
	for _, slot := range domain.DefaultInventory() {
		if _, err := s.slotRepo.Create(ctx, &slot); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				continue
			}
			return created, fmt.Errorf("lỗi tạo chỗ đỗ %s: %w", slot.SlotNumber, err)
		}
		created++
	}
	log.Printf("BookingService: Đã seed %d chỗ đỗ mặc định", created)
	return created, nil
}
