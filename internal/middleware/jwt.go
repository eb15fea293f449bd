package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursehub/backend/internal/auth"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
)

// JWT returns a middleware that verifies the bearer token and sets user claims in context.
func JWT(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := verifier.Verify(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, string(claims.Role))
		c.Next()
	}
}

// UserID returns the authenticated user's id. Handlers pass it on explicitly;
// services never read it from the request.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// HasRole reports whether the authenticated user has one of roles.
func HasRole(c *gin.Context, roles ...models.Role) bool {
	v, _ := c.Get(ContextUserRole)
	role, _ := v.(string)
	for _, r := range roles {
		if string(r) == role {
			return true
		}
	}
	return false
}
