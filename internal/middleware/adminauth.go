package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/pkg/response"
)

// AdminAuth returns a Gin middleware guarding the Management API. It
// compares the bearer token against the configured secret via a
// constant-time digest comparison to avoid timing oracles. The
// secret's digest is computed once when the middleware is built; the
// token's digest is computed fresh per request and never cached.
func AdminAuth(secret string) gin.HandlerFunc {
	secretDigest := sha256.Sum256([]byte(secret))

	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			response.AbortError(c, apperr.Unauthorized("missing admin token"))
			return
		}

		tokenDigest := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(tokenDigest[:], secretDigest[:]) != 1 {
			response.AbortError(c, apperr.Unauthorized("invalid admin token"))
			return
		}

		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
