package api

import (
	"github.com/gin-gonic/gin"

	"parking_reservation/internal/api/handler"
	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/service"
)

// Services gom các dependency của router; LPR và WebSocket có thể nil.
type Services struct {
	Bookings    *service.BookingService
	Reconciler  *service.ReconcilerService
	LPR         *service.LPRService
	AuthMw      *middleware.AuthMiddleware
	SensorLimit *middleware.RateLimiter
	WSManager   *handler.WebSocketManager
}

// SetupRouter không tự xử lý CORS; main bọc engine bằng rs/cors.
func SetupRouter(s Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")

	// WebSocket endpoint (không cần auth cho real-time connection)
	if s.WSManager != nil {
		wsHandler := handler.NewWebSocketHandler(s.WSManager)
		v1.GET("/ws", wsHandler.HandleWebSocket)
	}

	slotH := handler.NewParkingSlotHandler(s.Bookings, s.Reconciler)
	slotRoutes := v1.Group("/slots")
	{
		slotRoutes.GET("", slotH.ListSlots)
		if s.SensorLimit != nil {
			slotRoutes.POST("/slot-update", s.SensorLimit.Limit(), slotH.SlotUpdate)
		} else {
			slotRoutes.POST("/slot-update", slotH.SlotUpdate)
		}
	}

	bookingH := handler.NewBookingHandler(s.Bookings, s.Reconciler)
	bookingRoutes := v1.Group("/bookings")
	{
		bookingRoutes.POST("", s.AuthMw.OptionalAuth(), bookingH.CreateBooking)
		bookingRoutes.POST("/check", bookingH.CheckAvailability)
		bookingRoutes.POST("/entry", bookingH.RecognizeEntry)
		bookingRoutes.GET("", s.AuthMw.Authenticate(), bookingH.ListMyBookings)
		bookingRoutes.GET("/:id", bookingH.GetBooking)
		bookingRoutes.POST("/:id/cancel", bookingH.CancelBooking)
		bookingRoutes.POST("/:id/extend", s.AuthMw.Authenticate(), bookingH.ExtendBooking)
	}

	if s.LPR != nil {
		lprH := handler.NewLPRHandler(s.LPR)
		v1.POST("/lpr/entry", lprH.Entry)
	}
	return r
}
