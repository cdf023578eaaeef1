package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"

	"github.com/lib/pq"
)

type pgBookingRepository struct {
	db *sql.DB
}

func NewPgBookingRepository(db *sql.DB) repository.BookingRepository {
	return &pgBookingRepository{db: db}
}

const bookingColumns = `id, account_id, source, plate, plate_normalized, slot_number,
	start_time, end_time, actual_start_time, actual_end_time, status, buffer_expiry,
	notifications_sent, total_cost, created_at, updated_at`

func scanBooking(row rowScanner) (*domain.Booking, error) {
	b := &domain.Booking{}
	var markers []string
	if err := row.Scan(
		&b.ID, &b.AccountID, &b.Source, &b.Plate, &b.PlateNormalized, &b.SlotNumber,
		&b.StartTime, &b.EndTime, &b.ActualStartTime, &b.ActualEndTime, &b.Status, &b.BufferExpiry,
		pq.Array(&markers), &b.TotalCost, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.NotificationsSent = make([]domain.ReminderKind, 0, len(markers))
	for _, m := range markers {
		b.NotificationsSent = append(b.NotificationsSent, domain.ReminderKind(m))
	}
	normalizeBookingTimes(b)
	return b, nil
}

func normalizeBookingTimes(b *domain.Booking) {
	b.StartTime = b.StartTime.In(time.UTC)
	b.EndTime = b.EndTime.In(time.UTC)
	if b.ActualStartTime.Valid {
		b.ActualStartTime.Time = b.ActualStartTime.Time.In(time.UTC)
	}
	if b.ActualEndTime.Valid {
		b.ActualEndTime.Time = b.ActualEndTime.Time.In(time.UTC)
	}
	if b.BufferExpiry.Valid {
		b.BufferExpiry.Time = b.BufferExpiry.Time.In(time.UTC)
	}
	b.CreatedAt = b.CreatedAt.In(time.UTC)
	b.UpdatedAt = b.UpdatedAt.In(time.UTC)
}

func markerStrings(kinds []domain.ReminderKind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// mapOverlapError chuyển lỗi exclusion constraint sang sentinel error của repository
func mapOverlapError(err error) error {
	code, constraint, ok := constraintViolation(err)
	if !ok || code != codeExclusionViolation {
		return nil
	}
	switch constraint {
	case "bookings_slot_no_overlap":
		return repository.ErrSlotOverlap
	case "bookings_plate_no_overlap":
		return repository.ErrPlateOverlap
	}
	return nil
}

func (r *pgBookingRepository) queryBookings(ctx context.Context, op, query string, args ...any) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("BookingRepository.%s: %w", op, err)
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("BookingRepository.%s (scanning row): %w", op, err)
		}
		bookings = append(bookings, *b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("BookingRepository.%s (rows error): %w", op, err)
	}
	return bookings, nil
}

func (r *pgBookingRepository) queryOne(ctx context.Context, op, query string, args ...any) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("BookingRepository.%s: %w", op, err)
	}
	return b, nil
}

func (r *pgBookingRepository) Create(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	query := `INSERT INTO bookings
	           (id, account_id, source, plate, plate_normalized, slot_number, start_time, end_time,
	            actual_start_time, actual_end_time, status, buffer_expiry, notifications_sent, total_cost,
	            created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		booking.ID, booking.AccountID, booking.Source, booking.Plate, booking.PlateNormalized, booking.SlotNumber,
		booking.StartTime, booking.EndTime, booking.ActualStartTime, booking.ActualEndTime, booking.Status,
		booking.BufferExpiry, pq.Array(markerStrings(booking.NotificationsSent)), booking.TotalCost,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		if overlap := mapOverlapError(err); overlap != nil {
			return nil, fmt.Errorf("%w: slot %s, biển số %s", overlap, booking.SlotNumber, booking.Plate)
		}
		if code, _, ok := constraintViolation(err); ok && code == codeUniqueViolation {
			return nil, fmt.Errorf("%w: booking '%s'", repository.ErrDuplicateEntry, booking.ID)
		}
		return nil, fmt.Errorf("BookingRepository.Create: %w", err)
	}
	booking.CreatedAt = booking.CreatedAt.In(time.UTC)
	booking.UpdatedAt = booking.UpdatedAt.In(time.UTC)
	return booking, nil
}

func (r *pgBookingRepository) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	return r.queryOne(ctx, "FindByID", `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (r *pgBookingRepository) Update(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	query := `UPDATE bookings
	           SET account_id = $1, plate = $2, plate_normalized = $3, slot_number = $4,
	               start_time = $5, end_time = $6, actual_start_time = $7, actual_end_time = $8,
	               status = $9, buffer_expiry = $10, notifications_sent = $11, total_cost = $12,
	               updated_at = CURRENT_TIMESTAMP
	           WHERE id = $13
	           RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		booking.AccountID, booking.Plate, booking.PlateNormalized, booking.SlotNumber,
		booking.StartTime, booking.EndTime, booking.ActualStartTime, booking.ActualEndTime,
		booking.Status, booking.BufferExpiry, pq.Array(markerStrings(booking.NotificationsSent)), booking.TotalCost,
		booking.ID,
	).Scan(&booking.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if overlap := mapOverlapError(err); overlap != nil {
			return nil, fmt.Errorf("%w: booking %s", overlap, booking.ID)
		}
		return nil, fmt.Errorf("BookingRepository.Update: %w", err)
	}
	booking.UpdatedAt = booking.UpdatedAt.In(time.UTC)
	return booking, nil
}

func (r *pgBookingRepository) FindOverlappingBySlot(ctx context.Context, slotNumber string, window domain.Window, statuses []domain.BookingStatus) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE slot_number = $1 AND start_time < $2 AND $3 < end_time AND status = ANY($4)
	           ORDER BY start_time`
	return r.queryBookings(ctx, "FindOverlappingBySlot", query,
		slotNumber, window.End, window.Start, pq.Array(statusStrings(statuses)))
}

func (r *pgBookingRepository) FindOverlappingByPlate(ctx context.Context, plate string, window domain.Window, statuses []domain.BookingStatus) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE (plate = ANY($1) OR plate_normalized = $2)
	             AND start_time < $3 AND $4 < end_time AND status = ANY($5)
	           ORDER BY start_time`
	return r.queryBookings(ctx, "FindOverlappingByPlate", query,
		pq.Array(domain.PlateVariants(plate)), domain.NormalizePlate(plate),
		window.End, window.Start, pq.Array(statusStrings(statuses)))
}

func (r *pgBookingRepository) FindActiveForSlot(ctx context.Context, slotNumber string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE slot_number = $1 AND status = $2
	           ORDER BY start_time DESC LIMIT 1`
	return r.queryOne(ctx, "FindActiveForSlot", query, slotNumber, domain.BookingActive)
}

func (r *pgBookingRepository) FindPendingForSlot(ctx context.Context, slotNumber string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE slot_number = $1 AND status = $2
	           ORDER BY start_time ASC LIMIT 1`
	return r.queryOne(ctx, "FindPendingForSlot", query, slotNumber, domain.BookingPendingArrival)
}

func (r *pgBookingRepository) FindMostRecentLive(ctx context.Context) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE status = ANY($1)
	           ORDER BY updated_at DESC LIMIT 1`
	return r.queryOne(ctx, "FindMostRecentLive", query, pq.Array(statusStrings(domain.LiveStatuses)))
}

func (r *pgBookingRepository) FindPendingArrivalByPlate(ctx context.Context, plate string, now time.Time) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE (plate = ANY($1) OR plate_normalized = $2)
	             AND status = $3
	             AND (buffer_expiry IS NULL OR buffer_expiry >= $4)
	           ORDER BY start_time ASC LIMIT 1`
	return r.queryOne(ctx, "FindPendingArrivalByPlate", query,
		pq.Array(domain.PlateVariants(plate)), domain.NormalizePlate(plate), domain.BookingPendingArrival, now)
}

func (r *pgBookingRepository) FindPendingWithBuffer(ctx context.Context) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE status = $1 AND buffer_expiry IS NOT NULL
	           ORDER BY buffer_expiry ASC`
	return r.queryBookings(ctx, "FindPendingWithBuffer", query, domain.BookingPendingArrival)
}

func (r *pgBookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, at time.Time) (*domain.Booking, error) {
	query := `UPDATE bookings
	           SET status = $2::text,
	               actual_start_time = CASE WHEN $2::text = 'ACTIVE' THEN $3::timestamptz ELSE actual_start_time END,
	               actual_end_time = CASE WHEN $2::text = 'COMPLETED' THEN $3::timestamptz ELSE actual_end_time END,
	               updated_at = CURRENT_TIMESTAMP
	           WHERE id = $1
	           RETURNING ` + bookingColumns
	b, err := r.queryOne(ctx, "UpdateStatus", query, id, status, at)
	if err != nil {
		if overlap := mapOverlapError(err); overlap != nil {
			return nil, fmt.Errorf("%w: booking %s", overlap, id)
		}
		return nil, err
	}
	return b, nil
}

func (r *pgBookingRepository) AppendNotification(ctx context.Context, id string, kind domain.ReminderKind) (bool, error) {
	// Điều kiện NOT ... = ANY đảm bảo chỉ một lần ghi thành công dù có nhiều sweeper chạy song song
	query := `UPDATE bookings
	           SET notifications_sent = array_append(notifications_sent, $2::text), updated_at = CURRENT_TIMESTAMP
	           WHERE id = $1 AND NOT ($2::text = ANY(notifications_sent))`
	result, err := r.db.ExecContext(ctx, query, id, string(kind))
	if err != nil {
		return false, fmt.Errorf("BookingRepository.AppendNotification: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("BookingRepository.AppendNotification (checking rows affected): %w", err)
	}
	if rowsAffected == 1 {
		return true, nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *pgBookingRepository) Extend(ctx context.Context, id string, newEnd time.Time, extraCost float64) (*domain.Booking, error) {
	query := `UPDATE bookings
	           SET end_time = $2, total_cost = total_cost + $3, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $1
	           RETURNING ` + bookingColumns
	b, err := r.queryOne(ctx, "Extend", query, id, newEnd, extraCost)
	if err != nil {
		if overlap := mapOverlapError(err); overlap != nil {
			return nil, fmt.Errorf("%w: booking %s", overlap, id)
		}
		return nil, err
	}
	return b, nil
}

func (r *pgBookingRepository) FindByAccount(ctx context.Context, accountID string, plates []string) ([]domain.Booking, error) {
	var raw, normalized []string
	for _, p := range plates {
		raw = append(raw, domain.PlateVariants(p)...)
		normalized = append(normalized, domain.NormalizePlate(p))
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE account_id = $1
	              OR (account_id IS NULL AND (plate = ANY($2) OR plate_normalized = ANY($3)))
	           ORDER BY created_at DESC`
	return r.queryBookings(ctx, "FindByAccount", query, accountID, pq.Array(raw), pq.Array(normalized))
}
