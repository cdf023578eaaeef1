package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

type fakeDetector struct {
	out *rekognition.DetectTextOutput
	err error
}

func (f *fakeDetector) DetectText(context.Context, *rekognition.DetectTextInput, ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	return f.out, f.err
}

func detection(text string, conf float32, kind types.TextTypes) types.TextDetection {
	return types.TextDetection{DetectedText: aws.String(text), Confidence: aws.Float32(conf), Type: kind}
}

func TestPickPlate(t *testing.T) {
	plate, conf, seen := PickPlate([]types.TextDetection{
		detection("IND", 99, types.TextTypesWord),
		detection("KA01AB1234", 80, types.TextTypesWord),
		detection("MH 12 DE 1433", 97, types.TextTypesLine),
		{DetectedText: aws.String("AP07TA4050")},
	})
	if plate != "MH12DE1433" || conf != 97 {
		t.Fatalf("picked %q (%.0f), want MH12DE1433 (97)", plate, conf)
	}
	if len(seen) != 3 {
		t.Fatalf("seen = %v", seen)
	}

	if plate, _, _ := PickPlate([]types.TextDetection{detection("NO PARKING", 99, types.TextTypesLine)}); plate != "" {
		t.Fatalf("picked %q from non-plate text", plate)
	}
}

func TestLPRRecognizeEntry(t *testing.T) {
	h := newHarness(t)
	b := h.web(t, "MH12DE1433", "A4", t0, t0.Add(time.Hour))
	detector := &fakeDetector{out: &rekognition.DetectTextOutput{
		TextDetections: []types.TextDetection{detection("MH12 DE1433", 95, types.TextTypesLine)},
	}}
	lpr := NewLPRService(detector, h.reconciler)

	resp, err := lpr.RecognizeEntry(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if !resp.Matched || resp.BookingID != b.ID || resp.DetectedPlate != "MH12DE1433" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestLPRDetectionFailureIsReported(t *testing.T) {
	h := newHarness(t)
	lpr := NewLPRService(&fakeDetector{err: errors.New("throttled")}, h.reconciler)

	resp, err := lpr.RecognizeEntry(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if resp.Matched || resp.ErrorMessage == "" {
		t.Fatalf("resp = %+v", resp)
	}

	if _, _, err := NewLPRService(nil, h.reconciler).DetectPlate(context.Background(), nil); err == nil {
		t.Fatal("nil detector must fail")
	}
}
