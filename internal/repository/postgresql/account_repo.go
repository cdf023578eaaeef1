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

type pgAccountRepository struct {
	db *sql.DB
}

func NewPgAccountRepository(db *sql.DB) repository.AccountRepository {
	return &pgAccountRepository{db: db}
}

func (r *pgAccountRepository) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("AccountRepository.Create (begin): %w", err)
	}
	defer tx.Rollback()

	managed := make([]string, 0, len(account.ManagedCars))
	for _, p := range account.ManagedCars {
		managed = append(managed, domain.NormalizePlate(p))
	}
	query := `INSERT INTO accounts (id, name, managed_cars, created_at, updated_at)
	           VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING created_at, updated_at`
	err = tx.QueryRowContext(ctx, query, account.ID, sql.NullString{String: account.Name, Valid: account.Name != ""}, pq.Array(managed)).
		Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if code, constraint, ok := constraintViolation(err); ok && code == codeUniqueViolation && constraint == "accounts_pkey" {
			return nil, fmt.Errorf("%w: tài khoản '%s' đã tồn tại", repository.ErrDuplicateEntry, account.ID)
		}
		return nil, fmt.Errorf("AccountRepository.Create: %w", err)
	}
	for _, v := range account.Vehicles {
		if err := insertVehicle(ctx, tx, account.ID, v); err != nil {
			return nil, fmt.Errorf("AccountRepository.Create (vehicle %s): %w", v.PlateNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("AccountRepository.Create (commit): %w", err)
	}
	account.CreatedAt = account.CreatedAt.In(time.UTC)
	account.UpdatedAt = account.UpdatedAt.In(time.UTC)
	return account, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertVehicle(ctx context.Context, db execer, accountID string, v domain.Vehicle) error {
	if v.Type == "" {
		v.Type = domain.VehicleCar
	}
	query := `INSERT INTO account_vehicles (account_id, plate_number, plate_normalized, vehicle_class, nickname)
	           VALUES ($1, $2, $3, $4, $5)
	           ON CONFLICT (account_id, plate_normalized) DO NOTHING`
	_, err := db.ExecContext(ctx, query, accountID, v.PlateNumber, domain.NormalizePlate(v.PlateNumber), v.Type,
		sql.NullString{String: v.Nickname, Valid: v.Nickname != ""})
	return err
}

func (r *pgAccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	account := &domain.Account{}
	var name sql.NullString
	query := `SELECT id, name, managed_cars, created_at, updated_at FROM accounts WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&account.ID, &name, pq.Array(&account.ManagedCars), &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("AccountRepository.FindByID: %w", err)
	}
	account.Name = name.String
	account.CreatedAt = account.CreatedAt.In(time.UTC)
	account.UpdatedAt = account.UpdatedAt.In(time.UTC)

	vehicles, err := r.vehicles(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	account.Vehicles = vehicles
	return account, nil
}

func (r *pgAccountRepository) vehicles(ctx context.Context, accountID string) ([]domain.Vehicle, error) {
	query := `SELECT plate_number, vehicle_class, nickname FROM account_vehicles
	           WHERE account_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("AccountRepository.vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := []domain.Vehicle{}
	for rows.Next() {
		var v domain.Vehicle
		var nickname sql.NullString
		if err := rows.Scan(&v.PlateNumber, &v.Type, &nickname); err != nil {
			return nil, fmt.Errorf("AccountRepository.vehicles (scanning row): %w", err)
		}
		v.Nickname = nickname.String
		vehicles = append(vehicles, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("AccountRepository.vehicles (rows error): %w", err)
	}
	return vehicles, nil
}

func (r *pgAccountRepository) FindByPlate(ctx context.Context, plate string) (*domain.Account, error) {
	var accountID string
	// Ưu tiên xe đã đăng ký, sau đó mới tới danh sách managed_cars cũ
	query := `(SELECT account_id FROM account_vehicles
	            WHERE plate_normalized = $1 OR plate_number = $2
	            ORDER BY created_at LIMIT 1)
	           UNION ALL
	           (SELECT id FROM accounts
	            WHERE $1 = ANY(managed_cars) OR $2 = ANY(managed_cars)
	            ORDER BY created_at LIMIT 1)
	           LIMIT 1`
	err := r.db.QueryRowContext(ctx, query, domain.NormalizePlate(plate), plate).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("AccountRepository.FindByPlate: %w", err)
	}
	return r.FindByID(ctx, accountID)
}

func (r *pgAccountRepository) AddVehicle(ctx context.Context, accountID string, vehicle domain.Vehicle) error {
	if err := insertVehicle(ctx, r.db, accountID, vehicle); err != nil {
		if code, _, ok := constraintViolation(err); ok && code == "23503" {
			return repository.ErrNotFound
		}
		return fmt.Errorf("AccountRepository.AddVehicle: %w", err)
	}
	return nil
}
