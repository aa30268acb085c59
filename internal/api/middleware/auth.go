package middleware

import (
	"net/http"
	"strings"

	"github.com/evetabi/predex/internal/domain"
	"github.com/gin-gonic/gin"
)

// CtxCaller is the gin.Context key holding the authenticated domain.Caller.
const CtxCaller = "caller"

// TokenParser verifies an access token. Implemented by service.AuthService.
type TokenParser interface {
	ParseAccessToken(token string) (domain.Caller, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores the caller (domain.Caller) in the gin context.
func JWTMiddleware(auth TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", domain.ErrUnauthorized.Error())
			return
		}

		caller, err := auth.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abort(c, http.StatusUnauthorized, "ERR_INVALID_TOKEN", domain.ErrTokenInvalid.Error())
			return
		}

		c.Set(CtxCaller, caller)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// AdminMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// AdminMiddleware allows only admin callers through.
// Must be placed after JWTMiddleware in the chain.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetCaller(c).Admin {
			abort(c, http.StatusForbidden, "ERR_FORBIDDEN", domain.ErrAdminOnly.Error())
			return
		}
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// GetCaller retrieves the authenticated caller from the gin context.
// Returns the zero Caller if the middleware was not applied.
func GetCaller(c *gin.Context) domain.Caller {
	v, _ := c.Get(CtxCaller)
	caller, _ := v.(domain.Caller)
	return caller
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
