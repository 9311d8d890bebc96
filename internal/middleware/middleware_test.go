package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireRole(t *testing.T) {
	withRole := func(role string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if role != "" {
				c.Set("role", role)
			}
			c.Next()
		}
	}

	cases := []struct {
		role string
		want int
		code string
	}{
		{"admin", http.StatusOK, ""},
		{"user", http.StatusForbidden, "FORBIDDEN"},
		{"", http.StatusUnauthorized, "UNAUTHORIZED"},
	}
	for _, tc := range cases {
		r := gin.New()
		r.GET("/admin", withRole(tc.role), AdminOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })

		w := serve(r, httptest.NewRequest(http.MethodGet, "/admin", nil))
		assert.Equal(t, tc.want, w.Code, tc.role)
		if tc.code != "" {
			assert.Contains(t, w.Body.String(), tc.code)
		}
	}
}

func TestRequireRole_AnyOf(t *testing.T) {
	r := gin.New()
	r.GET("/desk", func(c *gin.Context) {
		c.Set("role", c.GetHeader("X-Role"))
		c.Next()
	}, RequireRole(RoleAdmin, "frontdesk"), func(c *gin.Context) { c.Status(http.StatusOK) })

	for role, want := range map[string]int{"admin": http.StatusOK, "frontdesk": http.StatusOK, "user": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/desk", nil)
		req.Header.Set("X-Role", role)
		assert.Equal(t, want, serve(r, req).Code, role)
	}
}

func TestInternalTokenAuth(t *testing.T) {
	log, hook := logtest.NewNullLogger()

	r := gin.New()
	r.POST("/hook", InternalTokenAuth("s3cret", log), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		header string
		want   int
		code   string
	}{
		{"Bearer s3cret", http.StatusOK, ""},
		{"bearer s3cret", http.StatusOK, ""},
		{"", http.StatusUnauthorized, "AUTH_MISSING"},
		{"Token s3cret", http.StatusUnauthorized, "AUTH_INVALID"},
		{"Bearer nope", http.StatusForbidden, "AUTH_INVALID"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := serve(r, req)
		assert.Equal(t, tc.want, w.Code, tc.header)
		if tc.code != "" {
			assert.Contains(t, w.Body.String(), tc.code)
		}
	}

	require.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, "invalid_token", hook.LastEntry().Data["reason"])

	unconfigured := gin.New()
	unconfigured.POST("/hook", InternalTokenAuth("", log), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer ")
	assert.Equal(t, http.StatusInternalServerError, serve(unconfigured, req).Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(requestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = serve(r, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestRequestLogger(t *testing.T) {
	log, hook := logtest.NewNullLogger()

	r := gin.New()
	r.Use(RequestID(), RequestLogger(log))
	r.GET("/ok", func(c *gin.Context) {
		c.Set("user_id", int64(5))
		c.Status(http.StatusOK)
	})
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "/ok", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Equal(t, int64(5), entry.Data["user_id"])
	assert.NotEmpty(t, entry.Data["request_id"])

	serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestErrorLogger_RecoversPanics(t *testing.T) {
	log, hook := logtest.NewNullLogger()

	r := gin.New()
	r.Use(RequestID(), ErrorLogger(log))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusInternalServerError)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "boom", hook.LastEntry().Data["error"])
	assert.Equal(t, "panic", hook.LastEntry().Data["type"])

	hook.Reset()
	serve(r, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, assert.AnError.Error(), hook.LastEntry().Data["error"])
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://hotel.example"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://hotel.example")
	w := serve(r, req)
	assert.Equal(t, "https://hotel.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
