package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"punchcard.com/punchcard/security"
	"punchcard.com/punchcard/web/common"
)

const (
	SessionCookie = "punchcard.session"
	identityKey   = "identity"
)

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		// Try to get from cookie
		cookie, err := c.Cookie(SessionCookie)
		if err != nil || cookie == "" {
			return "", false
		}
		return cookie, true
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Authentication checks for a valid Bearer token (or session cookie) and
// stores the caller's identity on the context.
func Authentication(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("missing credentials"))
			return
		}

		identity, err := security.ParseIdentityToken(tokenStr, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("invalid or expired token"))
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// CurrentIdentity returns the identity set by Authentication.
func CurrentIdentity(c *gin.Context) (security.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return security.Identity{}, false
	}
	identity, ok := v.(*security.Identity)
	if !ok || identity == nil {
		return security.Identity{}, false
	}
	return *identity, true
}
