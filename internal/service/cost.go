package service

import (
	"math"
	"time"
)

const (
	// RatePerHour is shared by booking creation and extension.
	RatePerHour = 50.0

	// BufferWindow là thời gian tối đa chờ xe WEB tới trước khi booking bị hủy
	BufferWindow = 30 * time.Minute
	// GraceWindow cho phép start time lùi về quá khứ một chút (độ trễ đồng hồ client)
	GraceWindow = 5 * time.Minute

	// MaxExtensionHours giới hạn một lần gia hạn
	MaxExtensionHours = 24 * 30
)

// Cost charges every started hour: ceil(hours) * RatePerHour.
func Cost(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return math.Ceil(d.Hours()) * RatePerHour
}

// ExtensionCost is charged pro rata, not rounded up.
func ExtensionCost(hours float64) float64 {
	return hours * RatePerHour
}
