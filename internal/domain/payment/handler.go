package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"innkeeper/internal/database"
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

type refundRequest struct {
	Amount *json.Number `json:"amount"`
	Reason string       `json:"reason" binding:"max=500"`
}

type completeRequest struct {
	TransactionID string          `json:"transaction_id" binding:"required,max=128"`
	Details       json.RawMessage `json:"details"`
}

type failRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type Response struct {
	ID               int64      `json:"id"`
	BookingID        int64      `json:"booking_id"`
	PaymentReference string     `json:"payment_reference"`
	Amount           string     `json:"amount"`
	RefundedAmount   string     `json:"refunded_amount"`
	Refundable       string     `json:"refundable"`
	Status           Status     `json:"status"`
	TransactionID    string     `json:"transaction_id,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
}

type refundResponse struct {
	ID        int64     `json:"id"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func ToResponse(p *Payment) Response {
	return Response{
		ID:               p.ID,
		BookingID:        p.BookingID,
		PaymentReference: p.PaymentReference,
		Amount:           money.Format(p.Amount),
		RefundedAmount:   money.Format(p.RefundedAmount),
		Refundable:       money.Format(p.Refundable()),
		Status:           p.Status,
		TransactionID:    p.TransactionID,
		FailureReason:    p.FailureReason,
		PaidAt:           p.PaidAt,
		RefundedAt:       p.RefundedAt,
	}
}

func (h *Handler) GetPayment(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid payment ID")
		return
	}

	p, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ToResponse(p))
}

func (h *Handler) ListRefunds(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid payment ID")
		return
	}

	refunds, err := h.service.ListRefunds(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]refundResponse, 0, len(refunds))
	for _, r := range refunds {
		out = append(out, refundResponse{ID: r.ID, Amount: money.Format(r.Amount), Reason: r.Reason, ActorID: r.ActorID, CreatedAt: r.CreatedAt})
	}
	response.Success(c, http.StatusOK, gin.H{"refunds": out})
}

func (h *Handler) RefundPayment(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid payment ID")
		return
	}

	// an empty body refunds the whole remainder
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.InvalidBody(c, validator.Details(err))
		return
	}

	params := RefundParams{PaymentID: id, Reason: req.Reason, ActorID: utils.ActorID(c)}
	if req.Amount != nil {
		amount, err := money.Parse(req.Amount.String())
		if err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		params.Amount = &amount
	}

	p, err := h.service.Refund(c.Request.Context(), params)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"payment_id":      p.ID,
		"status":          p.Status,
		"refunded_amount": money.Format(p.RefundedAmount),
	})
}

func (h *Handler) CompletePayment(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid payment ID")
		return
	}

	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidBody(c, validator.Details(err))
		return
	}

	p, err := h.service.MarkCompleted(c.Request.Context(), id, req.TransactionID, req.Details)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ToResponse(p))
}

func (h *Handler) FailPayment(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid payment ID")
		return
	}

	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidBody(c, validator.Details(err))
		return
	}

	p, err := h.service.MarkFailed(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ToResponse(p))
}

func (h *Handler) CancelPayment(c *gin.Context) {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid payment ID")
		return
	}

	p, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ToResponse(p))
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Payment not found")
	case errors.Is(err, ErrNotRefundable):
		response.Error(c, http.StatusConflict, "NotRefundable", err.Error())
	case errors.Is(err, ErrRefundExceedsRefundable):
		response.Error(c, http.StatusConflict, "RefundExceedsRefundable", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, money.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrInvalidStatusTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATUS_TRANSITION", err.Error())
	case errors.Is(err, database.ErrConcurrencyConflict):
		response.Error(c, http.StatusConflict, "ConcurrencyConflict", "Payment was modified concurrently, retry the request")
	default:
		response.Internal(c, err, "Failed to process payment")
	}
}
