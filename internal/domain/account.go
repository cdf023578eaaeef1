package domain

import "time"

// Account is the slice of a user account that booking cares about.
// Account CRUD lives elsewhere.
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Vehicles    []Vehicle `json:"vehicles"`
	ManagedCars []string  `json:"managed_cars,omitempty"` // biển số cũ trước khi có Vehicles, vẫn dùng để tự liên kết booking
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Vehicle struct {
	PlateNumber string       `json:"plate_number"`
	Type        VehicleClass `json:"type"`
	Nickname    string       `json:"nickname,omitempty"`
}

// ManagedPlates is the union of registered vehicles and legacy managed cars.
func (a *Account) ManagedPlates() []string {
	plates := make([]string, 0, len(a.Vehicles)+len(a.ManagedCars))
	for _, v := range a.Vehicles {
		plates = append(plates, v.PlateNumber)
	}
	for _, p := range a.ManagedCars {
		if !a.HasVehicle(p) {
			plates = append(plates, p)
		}
	}
	return plates
}

// ManagesPlate compares normalized forms.
func (a *Account) ManagesPlate(plate string) bool {
	norm := NormalizePlate(plate)
	for _, p := range a.ManagedPlates() {
		if NormalizePlate(p) == norm {
			return true
		}
	}
	return false
}

// HasVehicle reports whether plate is in Vehicles (legacy ManagedCars not considered).
func (a *Account) HasVehicle(plate string) bool {
	norm := NormalizePlate(plate)
	for _, v := range a.Vehicles {
		if NormalizePlate(v.PlateNumber) == norm {
			return true
		}
	}
	return false
}
