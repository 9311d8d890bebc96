package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"innkeeper/internal/domain/booking"
	"innkeeper/internal/domain/catalog"
	"innkeeper/internal/domain/history"
	"innkeeper/internal/domain/payment"
	"innkeeper/internal/middleware"
	"innkeeper/internal/pkg/response"
)

// Router builds the HTTP API:
//
//	/api/v1                   public catalog and the history websocket
//	/api/v1 (bearer)          reservations, bookings, history
//	/api/v1/admin (bearer)    front desk, refunds, room management
//	/api/v1/internal (token)  payment gateway callbacks
func (a *App) Router() *gin.Engine {
	if a.Config.IsProdLike() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(a.Log),
		middleware.ErrorLogger(a.Log),
		middleware.CORS(a.Config.AllowedOrigins()),
	)

	r.GET("/health", a.health)

	catalogHandler := catalog.NewHandler(a.Ledger, a.Policies)
	bookingHandler := booking.NewHandler(a.Bookings)
	paymentHandler := payment.NewHandler(a.Payments)
	historyHandler := history.NewHandler(a.History, a.Hub, a.JWT, a.Bookings.HistoryAccess(), a.Config.AllowedOrigins())

	v1 := r.Group("/api/v1")
	{
		catalogHandler.RegisterRoutes(v1)
		historyHandler.RegisterWebsocket(v1)

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(a.JWT))
		{
			bookingHandler.RegisterRoutes(protected)
			historyHandler.RegisterRoutes(protected)

			admin := protected.Group("/admin")
			admin.Use(middleware.AdminOnly())
			{
				bookingHandler.RegisterAdminRoutes(admin)
				paymentHandler.RegisterAdminRoutes(admin)
				catalogHandler.RegisterAdminRoutes(admin)
			}
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalTokenAuth(a.Config.InternalToken, a.Log))
		paymentHandler.RegisterWebhookRoutes(internal)
	}

	return r
}

func (a *App) health(c *gin.Context) {
	sqlDB, err := a.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}
