package handler

import (
	"encoding/base64"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"
)

type LPRHandler struct {
	lprService *service.LPRService
}

func NewLPRHandler(lprService *service.LPRService) *LPRHandler {
	return &LPRHandler{lprService: lprService}
}

// POST /api/v1/lpr/entry
func (h *LPRHandler) Entry(c *gin.Context) {
	var req domain.LPREntryRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payload không hợp lệ: " + err.Error()})
		return
	}

	imageBytes, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		log.Printf("LPRHandler: Lỗi giải mã ảnh base64: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu ảnh không hợp lệ"})
		return
	}
	if len(imageBytes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu ảnh rỗng"})
		return
	}
	log.Printf("LPRHandler: Đã nhận %d bytes ảnh từ cổng '%s'.", len(imageBytes), req.GateID)

	resp, err := h.lprService.RecognizeEntry(c.Request.Context(), imageBytes)
	if err != nil {
		respondError(c, err, "Lỗi xử lý ảnh LPR")
		return
	}
	c.JSON(http.StatusOK, resp)
}
