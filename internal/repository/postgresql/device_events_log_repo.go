package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

type pgDeviceEventsLogRepository struct {
	db *sql.DB
}

func NewPgDeviceEventsLogRepository(db *sql.DB) repository.DeviceEventsLogRepository {
	return &pgDeviceEventsLogRepository{db: db}
}

func (r *pgDeviceEventsLogRepository) Create(ctx context.Context, event *domain.DeviceEventLog) error {
	query := `INSERT INTO device_events_log
                (received_at, device_id, mqtt_topic, message_type, payload, processed_status, processing_notes)
               VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	var payload []byte
	if len(event.Payload) > 0 {
		payload = event.Payload
	}

	err := r.db.QueryRowContext(ctx, query,
		event.ReceivedAt,
		sql.NullString{String: event.DeviceID, Valid: event.DeviceID != ""},
		sql.NullString{String: event.MqttTopic, Valid: event.MqttTopic != ""},
		sql.NullString{String: event.MessageType, Valid: event.MessageType != ""},
		payload,
		sql.NullString{String: event.ProcessedStatus, Valid: event.ProcessedStatus != ""},
		sql.NullString{String: event.ProcessingNotes, Valid: event.ProcessingNotes != ""},
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("DeviceEventsLogRepository.Create: %w", err)
	}
	return nil
}
