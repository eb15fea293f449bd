package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/pkg/response"
)

// RequireRole lets through only users whose token carries one of roles.
// It must run after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserRole); !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if !HasRole(c, roles...) {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
