package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "github.com/boltdb/bolt"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

type accountRepo struct {
	s *Store
}

func (r *accountRepo) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	err := r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get([]byte(account.ID)) != nil {
			return fmt.Errorf("%w: tài khoản '%s' đã tồn tại", repository.ErrDuplicateEntry, account.ID)
		}
		now := r.s.stamp()
		account.CreatedAt = now
		account.UpdatedAt = now
		if account.Vehicles == nil {
			account.Vehicles = []domain.Vehicle{}
		}
		return putJSON(b, account.ID, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketAccounts), id, &account)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) FindByPlate(ctx context.Context, plate string) (*domain.Account, error) {
	var found *domain.Account
	err := r.s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAccounts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var account domain.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return err
			}
			if account.ManagesPlate(plate) {
				found = &account
				return nil
			}
		}
		return repository.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// AddVehicle is a no-op when the plate is already among the account's vehicles.
func (r *accountRepo) AddVehicle(ctx context.Context, accountID string, vehicle domain.Vehicle) error {
	return r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		var account domain.Account
		if err := getJSON(b, accountID, &account); err != nil {
			return err
		}
		if account.HasVehicle(vehicle.PlateNumber) {
			return nil
		}
		if vehicle.Type == "" {
			vehicle.Type = domain.VehicleCar
		}
		account.Vehicles = append(account.Vehicles, vehicle)
		account.UpdatedAt = r.s.stamp()
		return putJSON(b, accountID, &account)
	})
}
