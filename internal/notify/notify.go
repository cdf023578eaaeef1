// Package notify chứa các Notifier gửi sự kiện booking ra ngoài core.
package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"
)

// Publisher is the slice of *redis.Client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes every notification as JSON on one pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, event domain.BookingNotification) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("RedisNotifier: Lỗi marshal sự kiện booking %s: %v", event.BookingID, err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		log.Printf("RedisNotifier: Lỗi publish lên kênh %s: %v", n.channel, err)
	}
}

// LogNotifier chỉ ghi log; dùng khi không cấu hình Redis.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event domain.BookingNotification) {
	if event.Kind == domain.NotificationReminder {
		log.Printf("Notify: [%s] booking %s (xe '%s', slot %s)", event.Reminder, event.BookingID, event.Plate, event.SlotNumber)
		return
	}
	log.Printf("Notify: booking %s -> %s (%s)", event.BookingID, event.Status, event.Message)
}

// Multi fans a notification out to every notifier in order.
type Multi []service.Notifier

func (m Multi) Notify(ctx context.Context, event domain.BookingNotification) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}
