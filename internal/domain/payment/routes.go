package payment

import "github.com/gin-gonic/gin"

// RegisterAdminRoutes mounts refund and read endpoints; rg must require the admin role.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/payments")
	{
		payments.GET("/:id", h.GetPayment)
		payments.GET("/:id/refunds", h.ListRefunds)
		payments.POST("/:id/refund", h.RefundPayment)
	}
}

// RegisterWebhookRoutes mounts gateway callbacks; rg must be behind the internal token.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/payments")
	{
		payments.POST("/:id/complete", h.CompletePayment)
		payments.POST("/:id/fail", h.FailPayment)
		payments.POST("/:id/cancel", h.CancelPayment)
	}
}
