package middleware

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const GuestTokenKey = "guest_session_id"

// GuestSession assigns browser clients a stable guest identity. The token
// lives in the session cookie and is exposed on the request context; it
// is only a fallback — an explicit guestSessionId or userId in the request
// always wins, and the core services never read it themselves.
func GuestSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		if token, ok := session.Get(GuestTokenKey).(string); ok && token != "" {
			c.Set(GuestTokenKey, token)
			c.Next()
			return
		}

		token := uuid.NewString()
		session.Set(GuestTokenKey, token)
		if err := session.Save(); err == nil {
			c.Set(GuestTokenKey, token)
		}
		c.Next()
	}
}
