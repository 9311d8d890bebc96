package booking

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"innkeeper/internal/database"
	"innkeeper/internal/domain/history"
	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/domain/payment"
	"innkeeper/internal/pkg/money"
	"innkeeper/internal/pkg/response"
	"innkeeper/internal/pkg/utils"
	"innkeeper/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type guestRequest struct {
	Name  string `json:"name" binding:"required,max=255"`
	Email string `json:"email" binding:"omitempty,email,max=255"`
	Phone string `json:"phone" binding:"omitempty,max=50"`
	Notes string `json:"notes" binding:"omitempty,max=2000"`
}

type roomRequest struct {
	RoomID    int64  `json:"room_id" binding:"required,gt=0"`
	CheckIn   string `json:"check_in" binding:"required,ymd"`
	CheckOut  string `json:"check_out" binding:"required,ymd"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=10000"`
	ExtraBeds int    `json:"extra_beds" binding:"min=0,max=100"`
}

type reserveRequest struct {
	roomRequest
	Guest guestRequest `json:"guest_info" binding:"required"`
}

type createBookingRequest struct {
	Rooms []roomRequest `json:"rooms" binding:"required,min=1,max=20,dive"`
	Guest guestRequest  `json:"guest_info" binding:"required"`
}

type modifyRequest struct {
	CheckIn   string `json:"check_in" binding:"required,ymd"`
	CheckOut  string `json:"check_out" binding:"required,ymd"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=10000"`
	ExtraBeds int    `json:"extra_beds" binding:"min=0,max=100"`
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type lineResponse struct {
	ID                 int64                       `json:"id"`
	HotelRoomID        int64                       `json:"hotel_room_id"`
	CheckIn            string                      `json:"check_in"`
	CheckOut           string                      `json:"check_out"`
	Nights             int                         `json:"nights"`
	Quantity           int                         `json:"quantity"`
	ExtraBeds          int                         `json:"extra_beds"`
	Status             inventory.BookingRoomStatus `json:"status"`
	PricePerNight      string                      `json:"price_per_night"`
	TotalAmount        string                      `json:"total_amount"`
	CancellationFee    string                      `json:"cancellation_fee"`
	RefundedAmount     string                      `json:"refunded_amount"`
	CancellationReason string                      `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time                  `json:"cancelled_at,omitempty"`
	CheckedInAt        *time.Time                  `json:"checked_in_at,omitempty"`
	CheckedOutAt       *time.Time                  `json:"checked_out_at,omitempty"`
}

type bookingResponse struct {
	ID               int64              `json:"id"`
	BookingReference string             `json:"booking_reference"`
	Status           Status             `json:"status"`
	GuestName        string             `json:"guest_name"`
	GuestEmail       string             `json:"guest_email,omitempty"`
	GuestPhone       string             `json:"guest_phone,omitempty"`
	TotalAmount      string             `json:"total_amount"`
	GrandTotal       string             `json:"grand_total"`
	ArchivedAt       *time.Time         `json:"archived_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	Rooms            []lineResponse     `json:"rooms"`
	Payments         []payment.Response `json:"payments"`
}

func toLineResponse(l *inventory.BookingRoom) lineResponse {
	return lineResponse{
		ID:                 l.ID,
		HotelRoomID:        l.HotelRoomID,
		CheckIn:            l.CheckIn.Format(utils.DateLayout),
		CheckOut:           l.CheckOut.Format(utils.DateLayout),
		Nights:             l.Nights(),
		Quantity:           l.Quantity,
		ExtraBeds:          l.ExtraBeds,
		Status:             l.Status,
		PricePerNight:      money.Format(l.PricePerNight),
		TotalAmount:        money.Format(l.TotalAmount),
		CancellationFee:    money.Format(l.CancellationFee),
		RefundedAmount:     money.Format(l.RefundedAmount),
		CancellationReason: l.CancellationReason,
		CancelledAt:        l.CancelledAt,
		CheckedInAt:        l.CheckedInAt,
		CheckedOutAt:       l.CheckedOutAt,
	}
}

func toBookingResponse(d *Details) bookingResponse {
	b := d.Booking
	out := bookingResponse{
		ID:               b.ID,
		BookingReference: b.BookingReference,
		Status:           b.Status,
		GuestName:        b.GuestName,
		GuestEmail:       b.GuestEmail,
		GuestPhone:       b.GuestPhone,
		TotalAmount:      money.Format(b.TotalAmount),
		GrandTotal:       money.Format(b.GrandTotal),
		ArchivedAt:       b.ArchivedAt,
		CreatedAt:        b.CreatedAt,
		Rooms:            make([]lineResponse, 0, len(d.Rooms)),
		Payments:         make([]payment.Response, 0, len(d.Payments)),
	}
	for i := range d.Rooms {
		out.Rooms = append(out.Rooms, toLineResponse(&d.Rooms[i]))
	}
	for i := range d.Payments {
		out.Payments = append(out.Payments, payment.ToResponse(&d.Payments[i]))
	}
	return out
}

// sourceFor attributes HTTP-originated changes: admins act as admin,
// everyone else through the public API.
func sourceFor(c *gin.Context) history.Source {
	if utils.IsAdmin(c) {
		return history.SourceAdmin
	}
	return history.SourceAPI
}

func (r roomRequest) toDomain() (RoomRequest, error) {
	in, err := utils.ParseDate(r.CheckIn)
	if err != nil {
		return RoomRequest{}, err
	}
	out, err := utils.ParseDate(r.CheckOut)
	if err != nil {
		return RoomRequest{}, err
	}
	return RoomRequest{RoomID: r.RoomID, CheckIn: in, CheckOut: out, Quantity: r.Quantity, ExtraBeds: r.ExtraBeds}, nil
}

func (g guestRequest) toDomain() Guest {
	return Guest{Name: g.Name, Email: g.Email, Phone: g.Phone, Notes: g.Notes}
}

// Reserve books a single room: the one-line shortcut of CreateBooking.
func (h *Handler) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidBody(c, validator.Details(err))
		return
	}
	room, err := req.roomRequest.toDomain()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Dates must be YYYY-MM-DD")
		return
	}

	d, err := h.service.CreateBooking(c.Request.Context(), CreateBookingRequest{
		Rooms:   []RoomRequest{room},
		Guest:   req.Guest.toDomain(),
		ActorID: utils.ActorID(c),
		Source:  sourceFor(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"booking_room_id":   d.Rooms[0].ID,
		"booking_id":        d.Booking.ID,
		"booking_reference": d.Booking.BookingReference,
		"status":            d.Rooms[0].Status,
		"total_amount":      money.Format(d.Booking.GrandTotal),
	})
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidBody(c, validator.Details(err))
		return
	}

	rooms := make([]RoomRequest, 0, len(req.Rooms))
	for _, r := range req.Rooms {
		room, err := r.toDomain()
		if err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Dates must be YYYY-MM-DD")
			return
		}
		rooms = append(rooms, room)
	}

	d, err := h.service.CreateBooking(c.Request.Context(), CreateBookingRequest{
		Rooms:   rooms,
		Guest:   req.Guest.toDomain(),
		ActorID: utils.ActorID(c),
		Source:  sourceFor(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, toBookingResponse(d))
}

func (h *Handler) GetBooking(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking ID")
		return
	}
	if err := h.service.Authorize(c.Request.Context(), id, c.GetInt64("user_id"), utils.IsAdmin(c)); err != nil {
		h.writeError(c, err)
		return
	}

	d, err := h.service.GetBooking(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toBookingResponse(d))
}

func (h *Handler) ModifyBookingRoom(c *gin.Context) {
	id, ok := h.lineParam(c)
	if !ok {
		return
	}

	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidBody(c, validator.Details(err))
		return
	}
	in, errIn := utils.ParseDate(req.CheckIn)
	out, errOut := utils.ParseDate(req.CheckOut)
	if errIn != nil || errOut != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Dates must be YYYY-MM-DD")
		return
	}

	d, err := h.service.ModifyBookingRoom(c.Request.Context(), ModifyRequest{
		BookingRoomID: id,
		CheckIn:       in,
		CheckOut:      out,
		Quantity:      req.Quantity,
		ExtraBeds:     req.ExtraBeds,
		ActorID:       utils.ActorID(c),
		Source:        sourceFor(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toBookingResponse(d))
}

// CancelBookingRoom answers a repeated cancel with the original outcome and
// already_cancelled=true.
func (h *Handler) CancelBookingRoom(c *gin.Context) {
	id, ok := h.lineParam(c)
	if !ok {
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.InvalidBody(c, validator.Details(err))
		return
	}

	res, err := h.service.CancelBookingRoom(c.Request.Context(), CancelRequest{
		BookingRoomID: id,
		Reason:        req.Reason,
		ActorID:       utils.ActorID(c),
		Source:        sourceFor(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"booking_room_id":   res.BookingRoom.ID,
		"status":            res.BookingRoom.Status,
		"booking_status":    res.BookingStatus,
		"fee":               money.Format(res.Fee),
		"refunded":          money.Format(res.Refunded),
		"already_cancelled": res.AlreadyCancelled,
	})
}

func (h *Handler) CancellationQuote(c *gin.Context) {
	id, ok := h.lineParam(c)
	if !ok {
		return
	}

	q, err := h.service.CancellationQuote(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"booking_room_id": q.BookingRoomID,
		"status":          q.Status,
		"can_cancel":      q.CanCancel,
		"free_until":      q.FreeUntil,
		"fee":             money.Format(q.Fee),
		"refund":          money.Format(q.Refund),
		"policy":          q.Policy,
	})
}

func (h *Handler) CheckIn(c *gin.Context) {
	h.stay(c, h.service.CheckIn)
}

func (h *Handler) CheckOut(c *gin.Context) {
	h.stay(c, h.service.CheckOut)
}

func (h *Handler) MarkNoShow(c *gin.Context) {
	h.stay(c, h.service.MarkNoShow)
}

func (h *Handler) stay(c *gin.Context, op func(ctx context.Context, req StayRequest) (*inventory.BookingRoom, error)) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking room ID")
		return
	}

	row, err := op(c.Request.Context(), StayRequest{
		BookingRoomID: id,
		ActorID:       utils.ActorID(c),
		Source:        sourceFor(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toLineResponse(row))
}

func (h *Handler) ArchiveBooking(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking ID")
		return
	}

	b, err := h.service.ArchiveBooking(c.Request.Context(), id, history.Provenance{
		Source:  sourceFor(c),
		ActorID: utils.ActorID(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": b.ID, "status": b.Status, "archived_at": b.ArchivedAt})
}

// lineParam parses :id and checks the caller may act on that booking room.
func (h *Handler) lineParam(c *gin.Context) (int64, bool) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking room ID")
		return 0, false
	}
	if err := h.service.AuthorizeLine(c.Request.Context(), id, c.GetInt64("user_id"), utils.IsAdmin(c)); err != nil {
		h.writeError(c, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var reqErr *RoomRequestError
	var capErr *inventory.CapacityError
	switch {
	case errors.As(err, &reqErr) && errors.Is(err, inventory.ErrOutOfCapacity):
		response.ErrorWithDetails(c, http.StatusConflict, "OutOfCapacity", err.Error(), gin.H{
			"index":     reqErr.Index,
			"room_id":   reqErr.RoomID,
			"available": reqErr.Available,
		})
	case errors.As(err, &capErr):
		response.ErrorWithDetails(c, http.StatusConflict, "OutOfCapacity", err.Error(), gin.H{
			"room_id":   capErr.RoomID,
			"available": capErr.Available,
		})
	case errors.Is(err, inventory.ErrInvalidDateRange):
		response.Error(c, http.StatusBadRequest, "InvalidDateRange", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, inventory.ErrInvalidQuantity):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, inventory.ErrRoomNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Booking not found")
	case errors.Is(err, inventory.ErrBookingRoomNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Booking room not found")
	case errors.Is(err, ErrAlreadyCancelled):
		response.Error(c, http.StatusConflict, "AlreadyCancelled", err.Error())
	case errors.Is(err, ErrAlreadyArchived):
		response.Error(c, http.StatusConflict, "ALREADY_ARCHIVED", err.Error())
	case errors.Is(err, ErrNotArchivable):
		response.Error(c, http.StatusConflict, "NOT_ARCHIVABLE", err.Error())
	case errors.Is(err, inventory.ErrInvalidStatusTransition), errors.Is(err, payment.ErrInvalidStatusTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATUS_TRANSITION", err.Error())
	case errors.Is(err, database.ErrConcurrencyConflict):
		response.Error(c, http.StatusConflict, "ConcurrencyConflict", "Booking was modified concurrently, retry the request")
	default:
		response.Internal(c, err, "Failed to process booking")
	}
}
