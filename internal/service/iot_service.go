package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

// IoTService nhận sự kiện thiết bị (qua SQS) và chuyển sang reconciler.
type IoTService struct {
	reconciler   *ReconcilerService
	eventLogRepo repository.DeviceEventsLogRepository // nil = không ghi log sự kiện
	gateSensorID string
	now          func() time.Time
}

func NewIoTService(reconciler *ReconcilerService, eventLogRepo repository.DeviceEventsLogRepository, gateSensorID string) *IoTService {
	return &IoTService{
		reconciler:   reconciler,
		eventLogRepo: eventLogRepo,
		gateSensorID: gateSensorID,
		now:          time.Now,
	}
}

// HandleDeviceEvent trả lỗi khi message không xử lý được; consumer sẽ để SQS gửi lại.
// Loại message không hỗ trợ chỉ được log.
func (s *IoTService) HandleDeviceEvent(ctx context.Context, sqsMessageBody string) error {
	log.Printf("IoTService: Xử lý sự kiện từ SQS: %s", sqsMessageBody)

	var genericEvent domain.GenericIoTEvent
	if err := json.Unmarshal([]byte(sqsMessageBody), &genericEvent); err != nil {
		log.Printf("IoTService: Lỗi unmarshal sự kiện: %v. Body: %s", err, sqsMessageBody)
		s.logEvent(ctx, genericEvent, nil, "error", fmt.Sprintf("Failed to unmarshal event: %v", err))
		return fmt.Errorf("%w: lỗi unmarshal sự kiện: %v", ErrInvalidInput, err)
	}
	genericEvent.RawPayload = json.RawMessage(sqsMessageBody)

	var processingError error
	switch genericEvent.MessageType {
	case "slot_status":
		var event domain.DeviceSlotStatusEvent
		if err := json.Unmarshal(genericEvent.RawPayload, &event); err != nil {
			processingError = fmt.Errorf("%w: lỗi unmarshal slot_status event: %v", ErrInvalidInput, err)
			break
		}
		processingError = s.handleSlotStatus(ctx, event)

	case "gate_event":
		var event domain.DeviceGateSensorEvent
		if err := json.Unmarshal(genericEvent.RawPayload, &event); err != nil {
			processingError = fmt.Errorf("%w: lỗi unmarshal gate_event: %v", ErrInvalidInput, err)
			break
		}
		processingError = s.handleGateEvent(ctx, event)

	case "plate_detected":
		var event domain.DevicePlateDetectedEvent
		if err := json.Unmarshal(genericEvent.RawPayload, &event); err != nil {
			processingError = fmt.Errorf("%w: lỗi unmarshal plate_detected event: %v", ErrInvalidInput, err)
			break
		}
		match, err := s.reconciler.RecognizeEntry(ctx, event.Plate)
		if err != nil {
			processingError = err
			break
		}
		log.Printf("IoTService: Biển số '%s' từ thiết bị %s, khớp booking: %t", event.Plate, genericEvent.DeviceID, match.Matched)

	default:
		log.Printf("IoTService: Loại message không được xử lý: '%s'", genericEvent.MessageType)
		s.logEvent(ctx, genericEvent, genericEvent.RawPayload, "ignored", "unsupported message_type")
		return nil
	}

	if processingError != nil {
		log.Printf("IoTService: Lỗi khi xử lý sự kiện loại '%s' (Device: %s, Topic: %s): %v",
			genericEvent.MessageType, genericEvent.DeviceID, genericEvent.ReceivedMqttTopic, processingError)
		s.logEvent(ctx, genericEvent, genericEvent.RawPayload, "error", processingError.Error())
		return processingError
	}
	s.logEvent(ctx, genericEvent, genericEvent.RawPayload, "processed", "")
	return nil
}

func (s *IoTService) handleSlotStatus(ctx context.Context, event domain.DeviceSlotStatusEvent) error {
	signal, err := event.Signal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	outcome, err := s.reconciler.ReportOccupancy(ctx, domain.OccupancyReport{
		TargetID: string(event.SlotID),
		Signal:   signal,
		Distance: event.Distance,
		Source:   "sqs_slot_status",
	})
	if err != nil {
		return err
	}
	if outcome.Gate != nil {
		log.Printf("IoTService: slot_status trên cảm biến cổng -> %s", outcome.Gate.Status)
	}
	return nil
}

func (s *IoTService) handleGateEvent(ctx context.Context, event domain.DeviceGateSensorEvent) error {
	signal, err := domain.ParseOccupancySignal(event.Status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	outcome, err := s.reconciler.ReportOccupancy(ctx, domain.OccupancyReport{
		TargetID: s.gateSensorID,
		Signal:   signal,
		Distance: event.Distance,
		Source:   "sqs_gate_event",
	})
	if err != nil {
		return err
	}
	if outcome.Gate != nil {
		log.Printf("IoTService: Cổng (thiết bị %s, sensor %s) -> %s", event.DeviceID, event.SensorID, outcome.Gate.Status)
	}
	return nil
}

func (s *IoTService) logEvent(ctx context.Context, ev domain.GenericIoTEvent, payload json.RawMessage, status, notes string) {
	if s.eventLogRepo == nil {
		return
	}
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	deviceID := ev.DeviceID
	if deviceID == "" {
		deviceID = ev.ClientIDFromIoT
	}
	entry := &domain.DeviceEventLog{
		ReceivedAt:      s.now().UTC(),
		DeviceID:        deviceID,
		MqttTopic:       ev.ReceivedMqttTopic,
		MessageType:     ev.MessageType,
		Payload:         payload,
		ProcessedStatus: status,
		ProcessingNotes: notes,
	}
	if err := s.eventLogRepo.Create(ctx, entry); err != nil {
		log.Printf("IoTService: Lỗi khi ghi log sự kiện vào DB (%s): %v", status, err)
	}
}

// MQTTPublisher là phần của iotdataplane client dùng để gửi lệnh.
type MQTTPublisher interface {
	Publish(ctx context.Context, params *iotdataplane.PublishInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error)
}

// IoTGateController mở barrier bằng lệnh MQTT qua AWS IoT.
type IoTGateController struct {
	client MQTTPublisher
	topic  string
}

func NewIoTGateController(client MQTTPublisher, topic string) *IoTGateController {
	return &IoTGateController{client: client, topic: topic}
}

func (g *IoTGateController) OpenGate(ctx context.Context, cmd domain.GateCommandPayload) error {
	payloadBytes, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("lỗi marshal payload lệnh cổng: %w", err)
	}

	log.Printf("IoTService: Đang publish lệnh '%s' (ReqID: %s) tới topic %s", cmd.Command, cmd.RequestID, g.topic)
	_, err = g.client.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(g.topic),
		Qos:     1,
		Payload: payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("lỗi publish lệnh MQTT: %w", err)
	}
	log.Printf("IoTService: Đã gửi lệnh '%s' (ReqID: %s) cho booking %s", cmd.Command, cmd.RequestID, cmd.BookingID)
	return nil
}
