package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"
)

type BookingHandler struct {
	bookingService *service.BookingService
	reconciler     *service.ReconcilerService
}

func NewBookingHandler(bs *service.BookingService, rs *service.ReconcilerService) *BookingHandler {
	return &BookingHandler{bookingService: bs, reconciler: rs}
}

// POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var dto domain.CreateBookingDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accountID := middleware.AccountID(c)
	if err := h.bookingService.VerifyAccountPlate(c.Request.Context(), accountID, dto.CarNumber); err != nil {
		respondError(c, err, "Không thể kiểm tra biển số")
		return
	}

	booking, err := h.bookingService.CreateBooking(c.Request.Context(), service.CreateBookingInput{
		AccountID: accountID,
		Plate:     dto.CarNumber,
		SlotID:    dto.SlotID,
		Start:     dto.StartTime,
		End:       dto.EndTime,
		Source:    domain.BookingSource(dto.Source),
	})
	if err != nil {
		respondError(c, err, "Không thể tạo booking")
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// POST /bookings/check
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	var dto domain.CheckAvailabilityDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	availability, err := h.bookingService.CheckAvailability(c.Request.Context(), dto.CarNumber, dto.StartTime, dto.EndTime, dto.SlotID)
	if err != nil {
		respondError(c, err, "Không thể kiểm tra lịch trống")
		return
	}
	c.JSON(http.StatusOK, availability)
}

// GET /bookings
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	bookings, err := h.bookingService.ListAccountBookings(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		respondError(c, err, "Lỗi khi lấy danh sách booking")
		return
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	c.JSON(http.StatusOK, bookings)
}

// GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Lỗi khi lấy booking")
		return
	}
	c.JSON(http.StatusOK, booking)
}

// POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	booking, err := h.bookingService.CancelBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Không thể hủy booking")
		return
	}
	c.JSON(http.StatusOK, booking)
}

// POST /bookings/:id/extend
func (h *BookingHandler) ExtendBooking(c *gin.Context) {
	var dto domain.ExtendBookingDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Lỗi khi lấy booking")
		return
	}
	if existing.AccountID.Valid && existing.AccountID.String != middleware.AccountID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Booking không thuộc tài khoản này"})
		return
	}

	booking, err := h.bookingService.ExtendBooking(c.Request.Context(), existing.ID, dto.AdditionalHours)
	if err != nil {
		respondError(c, err, "Không thể gia hạn booking")
		return
	}
	c.JSON(http.StatusOK, booking)
}

// POST /bookings/entry - kiosk/camera gửi biển số đã nhận dạng
func (h *BookingHandler) RecognizeEntry(c *gin.Context) {
	var dto domain.PlateEntryDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	match, err := h.reconciler.RecognizeEntry(c.Request.Context(), dto.CarNumber)
	if err != nil {
		respondError(c, err, "Lỗi khi khớp biển số")
		return
	}
	c.JSON(http.StatusOK, match)
}
