package middleware

import (
	"encoding/base64"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/pkg/response"
	"github.com/mtchat/mtchat/internal/scope"
)

// ContextKey constants for values stored in gin.Context.
const (
	ContextUserID      = "userID"
	ContextScopeConfig = "scopeConfig"
)

// ScopeAuth extracts the Chat API's caller identity: the host is the
// trust boundary, so this does not verify a signature — it trusts the
// user_id query parameter and the base64-encoded X-Scope-Config JSON
// header, and 400s on anything malformed.
func ScopeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			response.AbortError(c, apperr.Validation("missing user_id query parameter"))
			return
		}

		raw := c.GetHeader("X-Scope-Config")
		if raw == "" {
			response.AbortError(c, apperr.Validation("missing X-Scope-Config header"))
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			response.AbortError(c, apperr.Validation("malformed X-Scope-Config header"))
			return
		}

		var cfg scope.Config
		if err := json.Unmarshal(decoded, &cfg); err != nil {
			response.AbortError(c, apperr.Validation("malformed X-Scope-Config header"))
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextScopeConfig, cfg)
		c.Next()
	}
}

// GetUserID returns the caller's user id from gin context.
func GetUserID(c *gin.Context) string {
	v, _ := c.Get(ContextUserID)
	s, _ := v.(string)
	return s
}

// GetScopeConfig returns the caller's decoded scope config from gin context.
func GetScopeConfig(c *gin.Context) scope.Config {
	v, _ := c.Get(ContextScopeConfig)
	cfg, _ := v.(scope.Config)
	return cfg
}
