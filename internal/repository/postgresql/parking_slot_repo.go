package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"

	"gopkg.in/guregu/null.v4"
)

type pgParkingSlotRepository struct {
	db *sql.DB
}

func NewPgParkingSlotRepository(db *sql.DB) repository.ParkingSlotRepository {
	return &pgParkingSlotRepository{db: db}
}

const slotColumns = `slot_number, zone, vehicle_class, status, current_booking_id,
	last_status_update_source, last_event_timestamp, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*domain.ParkingSlot, error) {
	slot := &domain.ParkingSlot{}
	var zone, lastStatusSource sql.NullString
	var lastEventTime sql.NullTime
	if err := row.Scan(
		&slot.SlotNumber, &zone, &slot.VehicleClass, &slot.Status, &slot.CurrentBookingID,
		&lastStatusSource, &lastEventTime, &slot.CreatedAt, &slot.UpdatedAt,
	); err != nil {
		return nil, err
	}
	slot.Zone = zone.String
	slot.LastStatusUpdateSource = lastStatusSource.String
	if lastEventTime.Valid {
		t := lastEventTime.Time.In(time.UTC)
		slot.LastEventTimestamp = &t
	}
	slot.CreatedAt = slot.CreatedAt.In(time.UTC)
	slot.UpdatedAt = slot.UpdatedAt.In(time.UTC)
	return slot, nil
}

func (r *pgParkingSlotRepository) Create(ctx context.Context, slot *domain.ParkingSlot) (*domain.ParkingSlot, error) {
	if slot.Status == "" {
		slot.Status = domain.SlotAvailable
	}
	query := `INSERT INTO parking_slots (slot_number, zone, vehicle_class, status, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		slot.SlotNumber, sql.NullString{String: slot.Zone, Valid: slot.Zone != ""}, slot.VehicleClass, slot.Status,
	).Scan(&slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		if code, constraint, ok := constraintViolation(err); ok && code == codeUniqueViolation && constraint == "parking_slots_pkey" {
			return nil, fmt.Errorf("%w: chỗ đỗ '%s' đã tồn tại", repository.ErrDuplicateEntry, slot.SlotNumber)
		}
		return nil, fmt.Errorf("ParkingSlotRepository.Create: %w", err)
	}
	slot.CreatedAt = slot.CreatedAt.In(time.UTC)
	slot.UpdatedAt = slot.UpdatedAt.In(time.UTC)
	return slot, nil
}

func (r *pgParkingSlotRepository) FindAll(ctx context.Context) ([]domain.ParkingSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM parking_slots ORDER BY slot_number`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ParkingSlotRepository.FindAll: %w", err)
	}
	defer rows.Close()

	var slots []domain.ParkingSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("ParkingSlotRepository.FindAll (scanning row): %w", err)
		}
		slots = append(slots, *slot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSlotRepository.FindAll (rows error): %w", err)
	}
	return slots, nil
}

func (r *pgParkingSlotRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parking_slots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ParkingSlotRepository.Count: %w", err)
	}
	return n, nil
}

func (r *pgParkingSlotRepository) FindBySlotNumber(ctx context.Context, slotNumber string) (*domain.ParkingSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM parking_slots WHERE slot_number = $1`
	slot, err := scanSlot(r.db.QueryRowContext(ctx, query, slotNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSlotRepository.FindBySlotNumber: %w", err)
	}
	return slot, nil
}

func (r *pgParkingSlotRepository) UpdateStatus(ctx context.Context, slotNumber string, status domain.SlotStatus, bookingID null.String, source string) error {
	query := `UPDATE parking_slots
	           SET status = $1, current_booking_id = $2, last_status_update_source = $3,
	               last_event_timestamp = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
	           WHERE slot_number = $4`
	result, err := r.db.ExecContext(ctx, query, status, bookingID, sql.NullString{String: source, Valid: source != ""}, slotNumber)
	if err != nil {
		return fmt.Errorf("ParkingSlotRepository.UpdateStatus: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSlotRepository.UpdateStatus (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgParkingSlotRepository) CompareAndSetStatus(ctx context.Context, slotNumber string, expected, next domain.SlotStatus, bookingID null.String, source string) error {
	query := `UPDATE parking_slots
	           SET status = $1, current_booking_id = $2, last_status_update_source = $3,
	               last_event_timestamp = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
	           WHERE slot_number = $4 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, next, bookingID, sql.NullString{String: source, Valid: source != ""}, slotNumber, expected)
	if err != nil {
		return fmt.Errorf("ParkingSlotRepository.CompareAndSetStatus: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSlotRepository.CompareAndSetStatus (checking rows affected): %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}
	// Không có dòng nào: slot không tồn tại hoặc trạng thái đã bị đổi
	if _, err := r.FindBySlotNumber(ctx, slotNumber); err != nil {
		return err
	}
	return repository.ErrStatusMismatch
}
