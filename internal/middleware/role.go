package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"innkeeper/internal/pkg/response"
)

const RoleAdmin = "admin"

// RequireRole lets the request through when the token's role is one of
// roles. Must run after JWTAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			return
		}

		if r, _ := role.(string); !slices.Contains(roles, r) {
			response.Abort(c, http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions")
			return
		}

		c.Next()
	}
}

// AdminOnly guards front-desk, refund and room management routes.
func AdminOnly() gin.HandlerFunc {
	return RequireRole(RoleAdmin)
}
