package domain

import (
	"strings"
	"time"

	"gopkg.in/guregu/null.v4"
)

type BookingStatus string

const (
	BookingPendingArrival BookingStatus = "PENDING_ARRIVAL"
	BookingActive         BookingStatus = "ACTIVE"
	BookingCompleted      BookingStatus = "COMPLETED"
	BookingCancelled      BookingStatus = "CANCELLED"
)

// LiveStatuses are the statuses that hold a slot.
var LiveStatuses = []BookingStatus{BookingPendingArrival, BookingActive}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

func (s BookingStatus) IsLive() bool {
	return s == BookingPendingArrival || s == BookingActive
}

type BookingSource string

const (
	SourceWeb   BookingSource = "WEB"
	SourceKiosk BookingSource = "KIOSK"
)

func (s BookingSource) Valid() bool {
	return s == SourceWeb || s == SourceKiosk
}

type ReminderKind string

const (
	Reminder15Min ReminderKind = "15_MIN_REMAINING"
	Reminder10Min ReminderKind = "10_MIN_REMAINING"
	Reminder5Min  ReminderKind = "5_MIN_REMAINING"
)

// ReminderThreshold pairs a reminder with the remaining buffer time that triggers it.
type ReminderThreshold struct {
	Kind      ReminderKind
	Remaining time.Duration
}

// ReminderSchedule is ordered from the largest remaining time to the smallest.
var ReminderSchedule = []ReminderThreshold{
	{Kind: Reminder15Min, Remaining: 15 * time.Minute},
	{Kind: Reminder10Min, Remaining: 10 * time.Minute},
	{Kind: Reminder5Min, Remaining: 5 * time.Minute},
}

type Booking struct {
	ID                string         `json:"id"`
	AccountID         null.String    `json:"account_id"` // null = kiosk, chưa liên kết tài khoản
	Source            BookingSource  `json:"source"`
	Plate             string         `json:"car_number"`
	PlateNormalized   string         `json:"car_number_normalized"`
	SlotNumber        string         `json:"slot_number"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	ActualStartTime   null.Time      `json:"actual_start_time"`
	ActualEndTime     null.Time      `json:"actual_end_time"`
	Status            BookingStatus  `json:"status"`
	BufferExpiry      null.Time      `json:"buffer_expiry"` // chỉ có với booking WEB
	NotificationsSent []ReminderKind `json:"notifications_sent"`
	TotalCost         float64        `json:"total_cost"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (b *Booking) Window() Window {
	return Window{Start: b.StartTime, End: b.EndTime}
}

func (b *Booking) HasNotification(kind ReminderKind) bool {
	for _, k := range b.NotificationsSent {
		if k == kind {
			return true
		}
	}
	return false
}

// BufferPassed reports whether the arrival buffer is set and over at now.
func (b *Booking) BufferPassed(now time.Time) bool {
	return b.BufferExpiry.Valid && now.After(b.BufferExpiry.Time)
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps uses half-open semantics: touching endpoints do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

var plateStripper = strings.NewReplacer(" ", "", "\t", "", "-", "", ".", "")

// NormalizePlate uppercases a plate and strips spaces, dashes and dots.
func NormalizePlate(plate string) string {
	return plateStripper.Replace(strings.ToUpper(strings.TrimSpace(plate)))
}

// PlateVariants returns the raw form and the normalized form, deduplicated.
// Older rows may carry either, so lookups match both.
func PlateVariants(plate string) []string {
	raw := strings.TrimSpace(plate)
	norm := NormalizePlate(plate)
	if raw == norm {
		return []string{norm}
	}
	return []string{raw, norm}
}

type CreateBookingDTO struct {
	SlotID    string    `json:"slotId" binding:"required"`
	CarNumber string    `json:"carNumber" binding:"required"`
	StartTime time.Time `json:"startTime" binding:"required"`
	EndTime   time.Time `json:"endTime" binding:"required"`
	Source    string    `json:"source,omitempty"`
}

type CheckAvailabilityDTO struct {
	CarNumber string    `json:"carNumber" binding:"required"`
	SlotID    string    `json:"slotId,omitempty"`
	StartTime time.Time `json:"startTime" binding:"required"`
	EndTime   time.Time `json:"endTime" binding:"required"`
}

type ExtendBookingDTO struct {
	AdditionalHours float64 `json:"additionalHours" binding:"required"`
}

type PlateEntryDTO struct {
	CarNumber string `json:"carNumber" binding:"required"`
	GateID    string `json:"gateId,omitempty"`
}

// Availability is the result of a read-only pre-check.
type Availability struct {
	Available bool   `json:"available"`
	Conflict  string `json:"conflict,omitempty"`
}

type EntryMatch struct {
	Matched   bool   `json:"matched"`
	BookingID string `json:"bookingId,omitempty"`
}
