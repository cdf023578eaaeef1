package service

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"parking_reservation/internal/domain"
)

// TextDetector là phần của Rekognition client mà LPR cần; test dùng bản giả.
type TextDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Biển số Ấn Độ: MH 12 DE 1433, AP07TA4050
var plateRegex = regexp.MustCompile(`[A-Z]{2}[0-9]{1,2}[A-Z]{1,3}[0-9]{3,4}`)

type LPRService struct {
	detector   TextDetector
	reconciler *ReconcilerService
}

func NewLPRService(detector TextDetector, reconciler *ReconcilerService) *LPRService {
	return &LPRService{detector: detector, reconciler: reconciler}
}

// DetectPlate gọi Rekognition DetectText và chọn biển số có độ tin cậy cao nhất.
func (s *LPRService) DetectPlate(ctx context.Context, imageBytes []byte) (string, float32, error) {
	if s.detector == nil {
		return "", 0, fmt.Errorf("Rekognition client chưa được khởi tạo")
	}

	log.Println("LPRService: Đang gọi Rekognition DetectText...")
	result, err := s.detector.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: imageBytes},
	})
	if err != nil {
		log.Printf("LPRService: Lỗi khi gọi Rekognition DetectText: %v", err)
		return "", 0, fmt.Errorf("lỗi Rekognition: %w", err)
	}
	log.Printf("LPRService: Rekognition trả về %d khối văn bản.", len(result.TextDetections))

	plate, confidence, seen := PickPlate(result.TextDetections)
	if plate == "" {
		log.Printf("LPRService: Không tìm thấy biển số. Văn bản nhận dạng: %s", strings.Join(seen, ", "))
		return "", 0, fmt.Errorf("không nhận dạng được biển số từ ảnh (Văn bản: %s)", strings.Join(seen, ", "))
	}
	log.Printf("LPRService: Biển số được chọn: '%s' với độ tin cậy: %.2f", plate, confidence)
	return plate, confidence, nil
}

// PickPlate returns the normalized plate with the highest confidence among the
// detections matching the plate pattern, plus every text it looked at.
func PickPlate(detections []types.TextDetection) (string, float32, []string) {
	var best string
	var maxConfidence float32
	var seen []string
	for _, d := range detections {
		if d.Type != types.TextTypesLine && d.Type != types.TextTypesWord {
			continue
		}
		if d.DetectedText == nil || d.Confidence == nil {
			continue
		}
		txt := domain.NormalizePlate(*d.DetectedText)
		seen = append(seen, txt)
		match := plateRegex.FindString(txt)
		if match != "" && *d.Confidence > maxConfidence {
			best, maxConfidence = match, *d.Confidence
		}
	}
	return best, maxConfidence, seen
}

// RecognizeEntry: ảnh -> biển số -> khớp booking chờ xe tới.
// Không đọc được biển số không phải lỗi hệ thống, được trả trong ErrorMessage.
func (s *LPRService) RecognizeEntry(ctx context.Context, imageBytes []byte) (*domain.LPREntryResponseDTO, error) {
	plate, confidence, err := s.DetectPlate(ctx, imageBytes)
	if err != nil {
		return &domain.LPREntryResponseDTO{ErrorMessage: err.Error()}, nil
	}
	match, err := s.reconciler.RecognizeEntry(ctx, plate)
	if err != nil {
		return nil, err
	}
	return &domain.LPREntryResponseDTO{
		DetectedPlate: plate,
		Confidence:    confidence,
		Matched:       match.Matched,
		BookingID:     match.BookingID,
	}, nil
}
