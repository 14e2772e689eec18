package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ward-backend/services"
)

const callerKey = "caller"

// TokenParser verifies a bearer token.
type TokenParser interface {
	Parse(raw string) (*services.Claims, error)
}

// Auth authenticates the bearer token. A missing token is 401, an invalid
// one 403. Authorization is left to the services.
func Auth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "access token required"})
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid or expired token"})
			return
		}
		c.Set(callerKey, services.Caller{UserID: claims.UserID(), Role: claims.Role})
		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for websocket upgrades.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		if c.IsWebsocket() {
			return strings.TrimSpace(c.Query("access_token"))
		}
		return ""
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// CurrentCaller returns the caller set by Auth.
func CurrentCaller(c *gin.Context) (services.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return services.Caller{}, false
	}
	caller, ok := v.(services.Caller)
	return caller, ok
}
