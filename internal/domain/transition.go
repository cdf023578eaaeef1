package domain

import (
	"fmt"
	"strings"
	"time"
)

type OccupancySignal string

const (
	SignalFree     OccupancySignal = "FREE"
	SignalOccupied OccupancySignal = "OCCUPIED"
)

// ParseOccupancySignal nhận cả cách viết của firmware cũ ("available", "vacant", ...).
func ParseOccupancySignal(s string) (OccupancySignal, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FREE", "AVAILABLE", "VACANT":
		return SignalFree, nil
	case "OCCUPIED":
		return SignalOccupied, nil
	}
	return "", fmt.Errorf("unknown occupancy signal %q", s)
}

// BookingEffect: việc mà một lần chuyển trạng thái slot yêu cầu sổ booking làm
type BookingEffect string

const (
	EffectNone BookingEffect = "none"
	// OCCUPIED -> FREE: hoàn tất booking ACTIVE đang giữ slot (nếu có)
	EffectCompleteActive BookingEffect = "complete_active"
	// RESERVED -> OCCUPIED: kích hoạt booking PENDING_ARRIVAL sớm nhất (nếu có)
	EffectActivatePending BookingEffect = "activate_pending"
	// RESERVED -> FREE: xem ResolveReservedFree
	EffectResolveReservation BookingEffect = "resolve_reservation"
)

// Transition là kết quả của một tín hiệu cảm biến trên một trạng thái slot.
// Next là trạng thái cần ghi; Write = false khi không có gì thay đổi.
type Transition struct {
	Next   SlotStatus
	Effect BookingEffect
	Write  bool
}

// SlotTransition - máy trạng thái cảm biến cho slot thường.
//
//	AVAILABLE + OCCUPIED -> OCCUPIED (xe vào không có booking)
//	AVAILABLE + FREE     -> no-op
//	OCCUPIED  + FREE     -> AVAILABLE, complete ACTIVE booking
//	OCCUPIED  + OCCUPIED -> no-op
//	RESERVED  + OCCUPIED -> OCCUPIED, activate earliest PENDING_ARRIVAL booking
//	RESERVED  + FREE     -> see ResolveReservedFree
func SlotTransition(current SlotStatus, signal OccupancySignal) Transition {
	switch current {
	case SlotAvailable:
		if signal == SignalOccupied {
			return Transition{Next: SlotOccupied, Effect: EffectNone, Write: true}
		}
		return Transition{Next: SlotAvailable, Effect: EffectNone}
	case SlotOccupied:
		if signal == SignalFree {
			return Transition{Next: SlotAvailable, Effect: EffectCompleteActive, Write: true}
		}
		return Transition{Next: SlotOccupied, Effect: EffectNone}
	case SlotReserved:
		if signal == SignalOccupied {
			return Transition{Next: SlotOccupied, Effect: EffectActivatePending, Write: true}
		}
		return Transition{Next: SlotReserved, Effect: EffectResolveReservation}
	}
	return Transition{Next: current, Effect: EffectNone}
}

// ReservationOutcome: cách xử lý tín hiệu FREE trên slot RESERVED
type ReservationOutcome struct {
	Next          SlotStatus
	CancelBooking bool
	Write         bool
}

// ResolveReservedFree xử lý FREE trên slot RESERVED theo booking chờ sớm nhất
// (nil nếu không có):
//
//	hết buffer            -> hủy booking, slot AVAILABLE
//	còn trong buffer      -> bỏ qua, slot vẫn RESERVED
//	không có booking chờ  -> giữ chỗ cũ, slot AVAILABLE
func ResolveReservedFree(pending *Booking, now time.Time) ReservationOutcome {
	if pending == nil {
		return ReservationOutcome{Next: SlotAvailable, Write: true}
	}
	if pending.BufferPassed(now) {
		return ReservationOutcome{Next: SlotAvailable, CancelBooking: true, Write: true}
	}
	return ReservationOutcome{Next: SlotReserved}
}
