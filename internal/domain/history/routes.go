package history

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the read API; rg must be authenticated.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/bookings/:id/history", h.GetHistory)
}

// RegisterWebsocket mounts the stream. It authenticates with ?token= itself.
func (h *Handler) RegisterWebsocket(rg *gin.RouterGroup) {
	rg.GET("/ws/bookings/:id", h.Stream)
}
