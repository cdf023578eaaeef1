package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"parking_reservation/internal/repository"
	"parking_reservation/internal/service"
)

// respondError ánh xạ lỗi nghiệp vụ sang mã HTTP; lỗi còn lại là 500.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidWindow), errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSlotNotFound), errors.Is(err, service.ErrBookingNotFound), errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSlotConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": service.ConflictSlot})
	case errors.Is(err, service.ErrVehicleConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": service.ConflictVehicle})
	case errors.Is(err, service.ErrAlreadyTerminal), errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVehicleNotRegistered):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		log.Printf("Handler: %s: %v", fallback, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback, "details": err.Error()})
	}
}
