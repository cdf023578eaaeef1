package service

import (
	"context"

	"parking_reservation/internal/domain"
)

// Notifier delivers booking events (reminders, status changes). Delivery is
// best effort: implementations log their own failures.
type Notifier interface {
	Notify(ctx context.Context, n domain.BookingNotification)
}

// GateController opens the physical barrier after an ALLOW decision.
type GateController interface {
	OpenGate(ctx context.Context, cmd domain.GateCommandPayload) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.BookingNotification) {}

func orNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
