package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/auth"
	"github.com/lumeo/backend/internal/util"
)

// RequireAuth validates the bearer token and loads the user into the gin
// context under "user" and "user_id".
func RequireAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			util.RespondUnauthorized(c, "no token provided")
			c.Abort()
			return
		}

		user, err := authService.ValidateToken(token)
		if err != nil {
			util.RespondUnauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}

// RequireProfileSetup rejects requests from accounts that have not finished
// the one-time username setup. It must run after RequireAuth.
func RequireProfileSetup() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := util.GetUserFromContext(c)
		if !ok {
			c.Abort()
			return
		}
		if !user.HasCompletedSetup() {
			util.RespondForbidden(c, "profile setup required")
			c.Abort()
			return
		}
		c.Next()
	}
}
