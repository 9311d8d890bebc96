package catalog

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/domain/policy"
	"innkeeper/internal/pkg/money"
	"innkeeper/internal/pkg/response"
	"innkeeper/internal/pkg/utils"
	"innkeeper/internal/pkg/validator"
)

const defaultCalendarDays = 30

type Handler struct {
	ledger   *inventory.Ledger
	policies *policy.Service
	now      func() time.Time
}

func NewHandler(ledger *inventory.Ledger, policies *policy.Service) *Handler {
	return &Handler{
		ledger:   ledger,
		policies: policies,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

/* ---------- ROOM HANDLERS ---------- */

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.ledger.ListRooms(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	out := make([]RoomResponse, 0, len(rooms))
	for i := range rooms {
		p, err := policy.Resolve(rooms[i].CancellationPolicy)
		if err != nil {
			p = policy.Default
		}
		out = append(out, toRoomResponse(&rooms[i], p.JSON()))
	}
	response.Success(c, http.StatusOK, gin.H{"rooms": out})
}

func (h *Handler) GetRoom(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	room, err := h.ledger.GetRoom(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	p, err := policy.Resolve(room.CancellationPolicy)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toRoomResponse(room, p.JSON()))
}

// CreateRoom registers a room type. A missing cancellation_policy stores the
// resolved default so every room carries a complete document.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidBody(c, validator.Details(err))
		return
	}

	price, err := money.Parse(req.PricePerNight.String())
	if err != nil {
		handleError(c, err)
		return
	}
	var extraBed int64
	if req.ExtraBedPrice != "" {
		if extraBed, err = money.Parse(req.ExtraBedPrice.String()); err != nil {
			handleError(c, err)
			return
		}
	}
	p, err := policy.Resolve(req.CancellationPolicy)
	if err != nil {
		handleError(c, err)
		return
	}

	room, err := h.ledger.CreateRoom(c.Request.Context(), inventory.CreateRoomParams{
		Name:               req.Name,
		RoomCount:          req.RoomCount,
		PricePerNight:      price,
		ExtraBedPrice:      extraBed,
		CancellationPolicy: datatypes.JSON(p.JSON()),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, toRoomResponse(room, p.JSON()))
}

/* ---------- AVAILABILITY ---------- */

// GetAvailability reports how many units are free for every night of
// [check_in, check_out).
func (h *Handler) GetAvailability(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	in, errIn := utils.ParseDate(c.Query("check_in"))
	out, errOut := utils.ParseDate(c.Query("check_out"))
	if errIn != nil || errOut != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "check_in and check_out must be YYYY-MM-DD")
		return
	}

	ctx := c.Request.Context()
	room, err := h.ledger.GetRoom(ctx, id)
	if err != nil {
		handleError(c, err)
		return
	}
	free, err := h.ledger.AvailableUnits(ctx, id, in, out)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, http.StatusOK, AvailabilityResponse{
		RoomID:    id,
		CheckIn:   in.Format(utils.DateLayout),
		CheckOut:  out.Format(utils.DateLayout),
		Nights:    inventory.Nights(in, out),
		RoomCount: room.RoomCount,
		Available: free,
	})
}

// GetCalendar lists booked and free units per night. Without from/to it
// covers the next 30 nights starting today.
func (h *Handler) GetCalendar(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}

	from := inventory.DateOnly(h.now())
	if raw := c.Query("from"); raw != "" {
		d, err := utils.ParseDate(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be YYYY-MM-DD")
			return
		}
		from = d
	}
	to := from.AddDate(0, 0, defaultCalendarDays)
	if raw := c.Query("to"); raw != "" {
		d, err := utils.ParseDate(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "to must be YYYY-MM-DD")
			return
		}
		to = d
	}

	days, err := h.ledger.Calendar(c.Request.Context(), id, from, to)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"room_id": id, "days": toCalendar(days)})
}

/* ---------- CANCELLATION POLICY ---------- */

func (h *Handler) GetPolicy(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	p, err := h.policies.ForRoom(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

// UpdatePolicy replaces the room's policy. Omitted fields fall back to the
// defaults; an empty body resets the policy entirely.
func (h *Handler) UpdatePolicy(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	p, err := h.policies.Update(c.Request.Context(), id, raw)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

func roomParam(c *gin.Context) (int64, bool) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid room ID")
		return 0, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrRoomNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Room not found")
	case errors.Is(err, inventory.ErrInvalidDateRange):
		response.Error(c, http.StatusBadRequest, "InvalidDateRange", err.Error())
	case errors.Is(err, inventory.ErrInvalidRoom),
		errors.Is(err, policy.ErrInvalidPolicy),
		errors.Is(err, money.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		response.Internal(c, err, "An internal error occurred")
	}
}
