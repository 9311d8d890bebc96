package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func setupTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _ := setupTestService(t)
	h := NewHandler(svc)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", int64(99))
		c.Set("role", "admin")
		c.Next()
	})
	v1 := r.Group("/api/v1")
	h.RegisterAdminRoutes(v1.Group("/admin"))
	h.RegisterWebhookRoutes(v1.Group("/internal"))
	return r, svc
}

func doJSONRequest(r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var env envelope
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	return rr, env
}

func paymentPath(prefix string, id int64, suffix string) string {
	return "/api/v1/" + prefix + "/payments/" + strconv.FormatInt(id, 10) + suffix
}

func TestHandler_CompleteThenRefund(t *testing.T) {
	r, svc := setupTestRouter(t)
	p := createPayment(t, svc, svc.db, 1, 10000)

	rr, env := doJSONRequest(r, http.MethodPost, paymentPath("internal", p.ID, "/complete"), map[string]any{
		"transaction_id": "txn-1",
		"details":        map[string]any{"card": "visa"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var completed Response
	require.NoError(t, json.Unmarshal(env.Data, &completed))
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, "100.00", completed.Amount)
	assert.Equal(t, "100.00", completed.Refundable)

	rr, env = doJSONRequest(r, http.MethodPost, paymentPath("admin", p.ID, "/refund"), `{"amount": 40, "reason": "guest request"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var refunded map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &refunded))
	assert.Equal(t, string(StatusPartiallyRefunded), refunded["status"])
	assert.Equal(t, "40.00", refunded["refunded_amount"])

	rr, env = doJSONRequest(r, http.MethodPost, paymentPath("admin", p.ID, "/refund"), map[string]any{"amount": "60.01"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "RefundExceedsRefundable", env.Error.Code)

	// empty body refunds the rest
	rr, env = doJSONRequest(r, http.MethodPost, paymentPath("admin", p.ID, "/refund"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &refunded))
	assert.Equal(t, string(StatusRefunded), refunded["status"])
	assert.Equal(t, "100.00", refunded["refunded_amount"])

	rr, env = doJSONRequest(r, http.MethodPost, paymentPath("admin", p.ID, "/refund"), map[string]any{"amount": 1})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "NotRefundable", env.Error.Code)

	rr, env = doJSONRequest(r, http.MethodGet, paymentPath("admin", p.ID, "/refunds"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Refunds []refundResponse `json:"refunds"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Refunds, 2)
	assert.Equal(t, "40.00", list.Refunds[0].Amount)
	require.NotNil(t, list.Refunds[0].ActorID)
	assert.Equal(t, int64(99), *list.Refunds[0].ActorID)
}

func TestHandler_RefundValidation(t *testing.T) {
	r, svc := setupTestRouter(t)
	p := createPayment(t, svc, svc.db, 1, 10000)
	_, err := svc.MarkCompleted(context.Background(), p.ID, "txn", nil)
	require.NoError(t, err)

	rr, env := doJSONRequest(r, http.MethodPost, paymentPath("admin", p.ID, "/refund"), `{"amount": 10.005}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rr, env = doJSONRequest(r, http.MethodPost, paymentPath("admin", p.ID, "/refund"), `{"amount": 0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rr, env = doJSONRequest(r, http.MethodPost, "/api/v1/admin/payments/abc/refund", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_ID", env.Error.Code)

	rr, env = doJSONRequest(r, http.MethodGet, paymentPath("admin", 12345, ""), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHandler_FailAndCancel(t *testing.T) {
	r, svc := setupTestRouter(t)
	p := createPayment(t, svc, svc.db, 1, 10000)

	rr, env := doJSONRequest(r, http.MethodPost, paymentPath("internal", p.ID, "/fail"), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "required", env.Error.Details["Reason"])

	rr, env = doJSONRequest(r, http.MethodPost, paymentPath("internal", p.ID, "/fail"), map[string]any{"reason": "declined"})
	require.Equal(t, http.StatusOK, rr.Code)
	var failed Response
	require.NoError(t, json.Unmarshal(env.Data, &failed))
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "declined", failed.FailureReason)

	rr, env = doJSONRequest(r, http.MethodPost, paymentPath("internal", p.ID, "/cancel"), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", env.Error.Code)
}
