package domain

// LPREntryRequestDTO dùng khi kiosk/camera gửi ảnh lên
type LPREntryRequestDTO struct {
	// Ảnh dưới dạng base64 encoded string
	ImageBase64 string `json:"image_base64" binding:"required"`
	GateID      string `json:"gate_id,omitempty"`
}

// LPREntryResponseDTO trả về biển số đã nhận dạng và kết quả khớp booking
type LPREntryResponseDTO struct {
	DetectedPlate string  `json:"detected_plate"`
	Confidence    float32 `json:"confidence,omitempty"`
	Matched       bool    `json:"matched"`
	BookingID     string  `json:"booking_id,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}
