package domain

import (
	"encoding/json"
	"time"
)

// GenericIoTEvent dùng để parse bước đầu, lấy message_type và các trường chung
type GenericIoTEvent struct {
	DeviceID               string          `json:"device_id"`
	MessageType            string          `json:"message_type"`
	Timestamp              string          `json:"timestamp"`                          // ISO 8601 UTC string từ thiết bị
	ReceivedMqttTopic      string          `json:"received_mqtt_topic,omitempty"`      // Do IoT Rule thêm vào
	IotProcessingTimestamp int64           `json:"iot_processing_timestamp,omitempty"` // Do IoT Rule thêm vào
	ClientIDFromIoT        string          `json:"client_id_iot,omitempty"`            // Do IoT Rule thêm vào
	RawPayload             json.RawMessage `json:"-"`
}

// DeviceSlotStatusEvent is a regular slot sensor reading ("slot_status").
// Older firmware sends is_occupied only, newer sends status.
type DeviceSlotStatusEvent struct {
	GenericIoTEvent
	SlotID     TargetID `json:"slot_id"` // "A1" hoặc số 1, 2 từ firmware cũ
	Status     string   `json:"status,omitempty"`
	IsOccupied *bool    `json:"is_occupied,omitempty"`
	Distance   *float64 `json:"distance,omitempty"`
}

// Signal resolves the reading to FREE/OCCUPIED.
func (e DeviceSlotStatusEvent) Signal() (OccupancySignal, error) {
	if e.Status != "" {
		return ParseOccupancySignal(e.Status)
	}
	if e.IsOccupied != nil && *e.IsOccupied {
		return SignalOccupied, nil
	}
	return SignalFree, nil
}

// DeviceGateSensorEvent is the ultrasonic sensor in front of the entry barrier ("gate_event").
type DeviceGateSensorEvent struct {
	GenericIoTEvent
	SensorID string   `json:"sensor_id"`
	Status   string   `json:"status"`
	Distance *float64 `json:"distance,omitempty"`
}

// DevicePlateDetectedEvent is a plate string produced by the camera pipeline ("plate_detected").
type DevicePlateDetectedEvent struct {
	GenericIoTEvent
	Plate      string  `json:"plate"`
	Confidence float32 `json:"confidence,omitempty"`
	GateID     string  `json:"gate_id,omitempty"`
}

// TargetID accepts both JSON strings and bare numbers; legacy sensors send 1, 2, 3.
type TargetID string

func (t *TargetID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TargetID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = TargetID(n.String())
	return nil
}

// Struct để lưu log sự kiện vào DB
type DeviceEventLog struct {
	ID              int64           `json:"id"`
	ReceivedAt      time.Time       `json:"received_at"`
	DeviceID        string          `json:"device_id"`
	MqttTopic       string          `json:"mqtt_topic"`
	MessageType     string          `json:"message_type"`
	Payload         json.RawMessage `json:"payload"`          // Lưu payload gốc dạng JSONB
	ProcessedStatus string          `json:"processed_status"` // "pending", "processed", "error"
	ProcessingNotes string          `json:"processing_notes,omitempty"`
}

// SlotUpdateDTO is the body posted by sensors and kiosks to /slots/slot-update.
type SlotUpdateDTO struct {
	SlotID   TargetID `json:"slot_id" binding:"required"`
	Status   string   `json:"status" binding:"required"`
	Distance *float64 `json:"distance,omitempty"`
}
