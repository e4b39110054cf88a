package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by RequireAuth.
const (
	ctxUserID = "authUserID"
	ctxRole   = "authRole"
	ctxUser   = "authUser"
)

// UserID returns the authenticated user's id, empty when unauthenticated.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// Role returns the authenticated user's role.
func Role(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// CurrentUser returns the authenticated account loaded by RequireAuth.
func CurrentUser(c *gin.Context) *User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(*User); ok {
			return u
		}
	}
	return nil
}

// RequireAuth validates the Bearer token and loads the account.
func RequireAuth(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		u, err := svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrBanned) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account banned"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxUserID, u.ID)
		c.Set(ctxRole, u.Role)
		c.Set(ctxUser, u)
		c.Next()
	}
}

// RequireAdmin rejects non-admin accounts. Must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

// RequireStaff admits admins and subadmins. Must run after RequireAuth.
// Subadmins only get read-only routes; mutating staff routes stay
// behind RequireAdmin.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsStaff(Role(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff only"})
			return
		}
		c.Next()
	}
}
