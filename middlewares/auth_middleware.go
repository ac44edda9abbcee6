package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/utils"
)

// Context keys set by the auth middlewares.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("Authorization header missing"))
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("Authorization header must be a Bearer token"))
			c.Abort()
			return
		}

		if !authenticate(c, strings.TrimPrefix(authHeader, "Bearer ")) {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("Invalid or expired token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, tokenString string) bool {
	claims, err := utils.ParseToken(tokenString)
	if err != nil || claims == nil || claims.UserID == 0 {
		return false
	}
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextRole, claims.Role)
	return true
}

// CurrentUserID returns the authenticated user id, or 0.
func CurrentUserID(c *gin.Context) uint {
	if v, ok := c.Get(ContextUserID); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}
