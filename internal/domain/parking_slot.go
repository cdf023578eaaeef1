package domain

import (
	"strconv"
	"time"

	"gopkg.in/guregu/null.v4"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotOccupied  SlotStatus = "OCCUPIED"
	SlotReserved  SlotStatus = "RESERVED"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotOccupied, SlotReserved:
		return true
	}
	return false
}

type VehicleClass string

const (
	VehicleCar         VehicleClass = "CAR"
	VehicleBike        VehicleClass = "BIKE"
	VehicleTruck       VehicleClass = "TRUCK"
	VehicleHandicapped VehicleClass = "HANDICAPPED"
)

type ParkingSlot struct {
	SlotNumber             string       `json:"slot_number"` // "A1", "B3", ...
	Zone                   string       `json:"zone,omitempty"`
	VehicleClass           VehicleClass `json:"type"`
	Status                 SlotStatus   `json:"status"`
	CurrentBookingID       null.String  `json:"current_booking_id"` // chỉ để tra cứu, booking mới là chủ sở hữu
	LastStatusUpdateSource string       `json:"last_status_update_source,omitempty"`
	LastEventTimestamp     *time.Time   `json:"last_event_timestamp,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// DefaultInventory is the layout seeded into an empty registry.
func DefaultInventory() []ParkingSlot {
	var slots []ParkingSlot
	add := func(zone string, from, to int, class VehicleClass) {
		for i := from; i <= to; i++ {
			slots = append(slots, ParkingSlot{
				SlotNumber:   zone + strconv.Itoa(i),
				Zone:         zone,
				VehicleClass: class,
				Status:       SlotAvailable,
			})
		}
	}
	add("A", 1, 6, VehicleCar)
	add("B", 1, 2, VehicleHandicapped)
	add("B", 3, 6, VehicleCar)
	add("C", 1, 3, VehicleTruck)
	add("C", 4, 6, VehicleBike)
	return slots
}

// SlotView is a slot as seen for a requested time window.
type SlotView struct {
	ParkingSlot
	AvailableForWindow bool `json:"available_for_window"`
}
