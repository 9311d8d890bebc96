package booking

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the guest API; rg must be authenticated. Ownership is
// checked per request, admins pass every check.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/reservations", h.Reserve)

	bookings := rg.Group("/bookings")
	{
		bookings.POST("", h.CreateBooking)
		bookings.GET("/:id", h.GetBooking)
	}

	lines := rg.Group("/booking-rooms")
	{
		lines.PATCH("/:id", h.ModifyBookingRoom)
		lines.POST("/:id/cancel", h.CancelBookingRoom)
		lines.GET("/:id/cancellation-quote", h.CancellationQuote)
	}
}

// RegisterAdminRoutes mounts front-desk operations; rg must require the admin role.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	lines := rg.Group("/booking-rooms")
	{
		lines.POST("/:id/check-in", h.CheckIn)
		lines.POST("/:id/check-out", h.CheckOut)
		lines.POST("/:id/no-show", h.MarkNoShow)
	}
	rg.POST("/bookings/:id/archive", h.ArchiveBooking)
}
