package history

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"innkeeper/internal/pkg/jwt"
	"innkeeper/internal/pkg/response"
	"innkeeper/internal/pkg/utils"
)

// AccessFunc decides whether a user may read a booking's history. It returns
// ErrNotFound when the booking does not exist or is not visible to the user.
type AccessFunc func(ctx context.Context, bookingID, userID int64, admin bool) error

type Handler struct {
	recorder *Recorder
	hub      *Hub
	jwt      *jwt.Service
	access   AccessFunc
	upgrader websocket.Upgrader
}

func NewHandler(recorder *Recorder, hub *Hub, jwtService *jwt.Service, access AccessFunc, allowedOrigins []string) *Handler {
	return &Handler{
		recorder: recorder,
		hub:      hub,
		jwt:      jwtService,
		access:   access,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

type entryResponse struct {
	ID                int64      `json:"id"`
	BookingRoomID     *int64     `json:"booking_room_id,omitempty"`
	Status            string     `json:"status"`
	PreviousStatus    string     `json:"previous_status,omitempty"`
	Comments          string     `json:"comments,omitempty"`
	Source            Source     `json:"source"`
	IsSystemGenerated bool       `json:"is_system_generated"`
	ActorID           *int64     `json:"actor_id,omitempty"`
	EffectiveFrom     time.Time  `json:"effective_from"`
	EffectiveTo       *time.Time `json:"effective_to"`
}

func toResponse(e Entry) entryResponse {
	return entryResponse{
		ID:                e.ID,
		BookingRoomID:     e.BookingRoomID,
		Status:            e.Status,
		PreviousStatus:    e.PreviousStatus,
		Comments:          e.Comments,
		Source:            e.Source,
		IsSystemGenerated: e.IsSystemGenerated,
		ActorID:           e.ActorID,
		EffectiveFrom:     e.EffectiveFrom,
		EffectiveTo:       e.EffectiveTo,
	}
}

// GetHistory returns the booking's log, newest first.
func (h *Handler) GetHistory(c *gin.Context) {
	bookingID, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking ID")
		return
	}
	if !h.allowed(c, bookingID, c.GetInt64("user_id"), utils.IsAdmin(c)) {
		return
	}

	entries, err := h.recorder.History(c.Request.Context(), bookingID)
	if err != nil {
		response.Internal(c, err, "Failed to load history")
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e))
	}
	response.Success(c, http.StatusOK, gin.H{"history": out})
}

// Stream upgrades to a websocket that receives every new history row of the
// booking.
//
// Endpoint: GET /ws/bookings/:id?token=JWT
// Browsers cannot set headers on websocket requests, so the token comes in the
// query string.
func (h *Handler) Stream(c *gin.Context) {
	bookingID, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking ID")
		return
	}

	token := c.Query("token")
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Token is required")
		return
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
		return
	}
	if !h.allowed(c, bookingID, claims.UserID, claims.Role == "admin") {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	h.hub.ServeWS(conn, claims.UserID, bookingID)
}

func (h *Handler) allowed(c *gin.Context, bookingID, userID int64, admin bool) bool {
	if h.access == nil {
		return true
	}
	err := h.access(c.Request.Context(), bookingID, userID, admin)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Booking not found")
	default:
		response.Internal(c, err, "Failed to load booking")
	}
	return false
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
