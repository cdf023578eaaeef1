package repository

import (
	"context"
	"errors"
	"time"

	"parking_reservation/internal/domain"

	"gopkg.in/guregu/null.v4"
)

var ErrNotFound = errors.New("không tìm thấy bản ghi")
var ErrDuplicateEntry = errors.New("bản ghi đã tồn tại")

// ErrStatusMismatch: trạng thái slot đã bị writer khác thay đổi, caller phải đọc lại và quyết định lại
var ErrStatusMismatch = errors.New("trạng thái slot đã thay đổi")

// Store-level overlap guards for live bookings.
var ErrSlotOverlap = errors.New("slot đã có booking trùng khung giờ")
var ErrPlateOverlap = errors.New("biển số đã có booking trùng khung giờ")

type ParkingSlotRepository interface {
	Create(ctx context.Context, slot *domain.ParkingSlot) (*domain.ParkingSlot, error)
	FindAll(ctx context.Context) ([]domain.ParkingSlot, error)
	Count(ctx context.Context) (int, error)
	FindBySlotNumber(ctx context.Context, slotNumber string) (*domain.ParkingSlot, error)
	// UpdateStatus ghi đè trạng thái và booking đang giữ slot
	UpdateStatus(ctx context.Context, slotNumber string, status domain.SlotStatus, bookingID null.String, source string) error
	// CompareAndSetStatus chỉ ghi khi trạng thái hiện tại bằng expected, ngược lại trả ErrStatusMismatch
	CompareAndSetStatus(ctx context.Context, slotNumber string, expected, next domain.SlotStatus, bookingID null.String, source string) error
}

type BookingRepository interface {
	// Create returns ErrSlotOverlap / ErrPlateOverlap when a live booking already overlaps.
	Create(ctx context.Context, booking *domain.Booking) (*domain.Booking, error)
	FindByID(ctx context.Context, id string) (*domain.Booking, error)
	Update(ctx context.Context, booking *domain.Booking) (*domain.Booking, error)

	FindOverlappingBySlot(ctx context.Context, slotNumber string, window domain.Window, statuses []domain.BookingStatus) ([]domain.Booking, error)
	// FindOverlappingByPlate khớp cả dạng gốc lẫn dạng chuẩn hóa của biển số
	FindOverlappingByPlate(ctx context.Context, plate string, window domain.Window, statuses []domain.BookingStatus) ([]domain.Booking, error)

	FindActiveForSlot(ctx context.Context, slotNumber string) (*domain.Booking, error)
	// FindPendingForSlot trả booking PENDING_ARRIVAL bắt đầu sớm nhất
	FindPendingForSlot(ctx context.Context, slotNumber string) (*domain.Booking, error)
	FindMostRecentLive(ctx context.Context) (*domain.Booking, error)
	FindPendingArrivalByPlate(ctx context.Context, plate string, now time.Time) (*domain.Booking, error)
	FindPendingWithBuffer(ctx context.Context) ([]domain.Booking, error)

	// UpdateStatus stamps actual start (ACTIVE) or actual end (COMPLETED) with at.
	UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, at time.Time) (*domain.Booking, error)
	// AppendNotification is idempotent; added is false when the marker was already present.
	AppendNotification(ctx context.Context, id string, kind domain.ReminderKind) (added bool, err error)
	Extend(ctx context.Context, id string, newEnd time.Time, extraCost float64) (*domain.Booking, error)

	// FindByAccount: booking của tài khoản + booking ẩn danh trên các biển số tài khoản quản lý
	FindByAccount(ctx context.Context, accountID string, plates []string) ([]domain.Booking, error)
}

type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByPlate(ctx context.Context, plate string) (*domain.Account, error)
	AddVehicle(ctx context.Context, accountID string, vehicle domain.Vehicle) error
}

type DeviceEventsLogRepository interface {
	Create(ctx context.Context, event *domain.DeviceEventLog) error
}
