package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionKeyContextKey holds the session key address of an authenticated request.
const SessionKeyContextKey = "sessionKey"

// RequireAuthenticated rejects requests while the session is not authenticated
func RequireAuthenticated(session Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := session.State()
		if !state.IsAuthenticated || state.SessionKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session is not authenticated"})
			return
		}

		c.Set(SessionKeyContextKey, state.SessionKey.Address.Hex())

		c.Next()
	}
}
