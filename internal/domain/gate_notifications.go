// File: internal/domain/gate_notifications.go
package domain

import "time"

type GateStatus string

const (
	GateAllow GateStatus = "ALLOW"
	GateDeny  GateStatus = "DENY"
	GateIdle  GateStatus = "IDLE"
)

// GateDecision - trả lời cho cảm biến cổng (không phải một slot thật)
type GateDecision struct {
	Status    GateStatus `json:"status"`
	BookingID string     `json:"booking,omitempty"`
	Plate     string     `json:"plate,omitempty"`
}

// OccupancyReport is one reading from a gate or slot sensor, or a kiosk.
type OccupancyReport struct {
	TargetID string          `json:"slot_id"`
	Signal   OccupancySignal `json:"status"`
	Distance *float64        `json:"distance,omitempty"`
	Source   string          `json:"-"` // "sensor", "sqs", "kiosk"...
}

// SlotAck acknowledges a regular slot reading.
type SlotAck struct {
	Slot          ParkingSlot   `json:"slot"`
	Effect        BookingEffect `json:"effect"`
	BookingID     string        `json:"booking_id,omitempty"`
	BookingStatus BookingStatus `json:"booking_status,omitempty"`
}

// OccupancyOutcome carries exactly one of Gate or Slot.
type OccupancyOutcome struct {
	Gate *GateDecision `json:"gate,omitempty"`
	Slot *SlotAck      `json:"slot,omitempty"`
}

type NotificationKind string

const (
	NotificationReminder      NotificationKind = "reminder"
	NotificationStatusChanged NotificationKind = "booking_status_changed"
)

// BookingNotification - event được đẩy ra frontend / các service khác
type BookingNotification struct {
	Kind       NotificationKind `json:"kind"`
	BookingID  string           `json:"booking_id"`
	SlotNumber string           `json:"slot_number,omitempty"`
	Plate      string           `json:"plate,omitempty"`
	Reminder   ReminderKind     `json:"reminder,omitempty"`
	Status     BookingStatus    `json:"status,omitempty"`
	Message    string           `json:"message,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// GateCommandPayload is published to the gate controller when a vehicle is admitted.
type GateCommandPayload struct {
	Command   string `json:"command"` // "open"
	BookingID string `json:"booking_id,omitempty"`
	Plate     string `json:"plate,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
