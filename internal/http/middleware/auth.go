// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. Verification itself is
// delegated to an auth.Verifier (the external auth collaborator); the
// middleware only extracts the credential, resolves it, and stashes the
// resulting user id in the Gin context under the "userID" key that the rest
// of the stack (rate limiting, idempotency, handlers) already relies on.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recipe-backend/internal/auth"
)

// ctxKeyUserID is the Gin context key carrying the authenticated user id.
const ctxKeyUserID = "userID"

// UserID returns the authenticated user id set by RequireAuth, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireAuth returns a middleware that rejects requests without a valid
// bearer token. On success the resolved user id is stored in the context.
//
// Responses:
//   - 401 with a standard error envelope when the Authorization header is
//     absent, not a bearer credential, or rejected by the verifier.
func RequireAuth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			unauthorized(c)
			return
		}

		uid, err := v.Verify(c.Request.Context(), strings.TrimSpace(token))
		if err != nil || uid == "" {
			unauthorized(c)
			return
		}

		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// unauthorized aborts with the standard 401 envelope. The handler-level fail
// helper is not used here to avoid an import cycle with the handlers package.
func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    "missing or invalid credentials",
	})
}
