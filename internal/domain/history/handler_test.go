package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innkeeper/internal/events"
	"innkeeper/internal/pkg/jwt"
	"innkeeper/internal/pkg/logger"
)

const ownerID = int64(42)

// only booking 1 exists and it belongs to ownerID
func testAccess(_ context.Context, bookingID, userID int64, admin bool) error {
	if bookingID != 1 {
		return ErrNotFound
	}
	if !admin && userID != ownerID {
		return ErrNotFound
	}
	return nil
}

func setupHandler(t *testing.T) (*gin.Engine, *Recorder, *Hub, *jwt.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec, _ := setupRecorder(t)
	hub := NewHub(logger.Discard())
	rec.publisher = hub
	jwtSvc := jwt.New("test-secret", time.Hour)
	h := NewHandler(rec, hub, jwtSvc, testAccess, []string{"*"})

	r := gin.New()
	api := r.Group("/api/v1")
	authed := api.Group("")
	authed.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-User-ID") != "" {
			c.Set("user_id", ownerID)
		}
		if c.GetHeader("X-Test-Admin") != "" {
			c.Set("user_id", int64(1))
			c.Set("role", "admin")
		}
		c.Next()
	})
	h.RegisterRoutes(authed)
	h.RegisterWebsocket(api)
	return r, rec, hub, jwtSvc
}

func TestGetHistory(t *testing.T) {
	r, rec, _, _ := setupHandler(t)
	record(t, rec, 1, "confirmed", SourceAPI)
	record(t, rec, 1, "cancelled", SourceAdmin)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/1/history", nil)
	req.Header.Set("X-Test-User-ID", "42")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Data struct {
			History []entryResponse `json:"history"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data.History, 2)
	assert.Equal(t, "cancelled", body.Data.History[0].Status)
	assert.Equal(t, "confirmed", body.Data.History[0].PreviousStatus)
	assert.Equal(t, SourceAdmin, body.Data.History[0].Source)
	assert.Nil(t, body.Data.History[0].EffectiveTo)
	assert.NotNil(t, body.Data.History[1].EffectiveTo)
}

func TestGetHistory_Access(t *testing.T) {
	r, _, _, _ := setupHandler(t)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"stranger", "/api/v1/bookings/1/history", "", http.StatusNotFound},
		{"admin", "/api/v1/bookings/1/history", "X-Test-Admin", http.StatusOK},
		{"missing booking", "/api/v1/bookings/2/history", "X-Test-Admin", http.StatusNotFound},
		{"bad id", "/api/v1/bookings/x/history", "X-Test-Admin", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set(tc.header, "1")
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestStream_ReceivesRecordedEntries(t *testing.T) {
	r, rec, hub, jwtSvc := setupHandler(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	token, err := jwtSvc.GenerateToken(ownerID, "user")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/bookings/1?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(1) == 1 }, 2*time.Second, 10*time.Millisecond)

	// events for other bookings or of other types are not forwarded
	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypePaymentCompleted, 1, nil)))
	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypeHistoryRecorded, 2, nil)))

	record(t, rec, 1, "confirmed", SourceAPI)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type      string `json:"type"`
		BookingID int64  `json:"booking_id"`
		Entry     Entry  `json:"entry"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.TypeHistoryRecorded, msg.Type)
	assert.Equal(t, int64(1), msg.BookingID)
	assert.Equal(t, "confirmed", msg.Entry.Status)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Subscribers(1))
}

func TestStream_RejectsBadTokens(t *testing.T) {
	r, _, _, jwtSvc := setupHandler(t)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ws/bookings/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ws/bookings/1?token=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := jwtSvc.GenerateToken(7, "user")
	require.NoError(t, err)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ws/bookings/1?token="+token, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://hotel.example"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://hotel.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
