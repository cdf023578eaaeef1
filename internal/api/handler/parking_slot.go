package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"
)

type ParkingSlotHandler struct {
	bookingService *service.BookingService
	reconciler     *service.ReconcilerService
}

func NewParkingSlotHandler(bs *service.BookingService, rs *service.ReconcilerService) *ParkingSlotHandler {
	return &ParkingSlotHandler{bookingService: bs, reconciler: rs}
}

// GET /slots?start=...&end=... (RFC3339, cả hai hoặc không có)
func (h *ParkingSlotHandler) ListSlots(c *gin.Context) {
	startStr, endStr := c.Query("start"), c.Query("end")
	var window *domain.Window
	if startStr != "" || endStr != "" {
		start, errStart := time.Parse(time.RFC3339, startStr)
		end, errEnd := time.Parse(time.RFC3339, endStr)
		if errStart != nil || errEnd != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start và end phải cùng có mặt, định dạng RFC3339"})
			return
		}
		if !end.After(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end phải sau start"})
			return
		}
		window = &domain.Window{Start: start.UTC(), End: end.UTC()}
	}

	slots, err := h.bookingService.ListSlots(c.Request.Context(), window)
	if err != nil {
		respondError(c, err, "Lỗi khi lấy danh sách chỗ đỗ xe")
		return
	}
	c.JSON(http.StatusOK, slots)
}

// POST /slots/slot-update - cảm biến siêu âm / kiosk báo trạng thái
func (h *ParkingSlotHandler) SlotUpdate(c *gin.Context) {
	var dto domain.SlotUpdateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	signal, err := domain.ParseOccupancySignal(dto.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.reconciler.ReportOccupancy(c.Request.Context(), domain.OccupancyReport{
		TargetID: string(dto.SlotID),
		Signal:   signal,
		Distance: dto.Distance,
		Source:   "sensor_http",
	})
	if err != nil {
		respondError(c, err, "Lỗi khi cập nhật trạng thái chỗ đỗ")
		return
	}
	if outcome.Gate != nil {
		c.JSON(http.StatusOK, outcome.Gate)
		return
	}
	c.JSON(http.StatusOK, outcome.Slot)
}
