package catalog

import "github.com/gin-gonic/gin"

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Public routes
	rooms := r.Group("/rooms")
	{
		rooms.GET("", h.ListRooms)
		rooms.GET("/:id", h.GetRoom)
		rooms.GET("/:id/availability", h.GetAvailability) // ?check_in=...&check_out=...
		rooms.GET("/:id/calendar", h.GetCalendar)         // ?from=...&to=...
		rooms.GET("/:id/cancellation-policy", h.GetPolicy)
	}
}

func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/rooms", h.CreateRoom)
	r.PUT("/rooms/:id/cancellation-policy", h.UpdatePolicy)
}
