package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const DateLayout = "2006-01-02"

var ErrInvalidID = errors.New("invalid id")

// ParamID parses a positive int64 path parameter.
func ParamID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

// ActorID is the authenticated user id, or nil for anonymous and internal callers.
func ActorID(c *gin.Context) *int64 {
	id := c.GetInt64("user_id")
	if id == 0 {
		return nil
	}
	return &id
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString("role") == "admin"
}

// ParseDate reads a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}
