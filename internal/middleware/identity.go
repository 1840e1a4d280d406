package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/nurse-call-api/pkg/auth"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/httputil"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderIdempotencyKey = "Idempotency-Key"

	ContextUserID   = "user_id"
	ContextUserRole = "user_role"
)

// Identity resolves the caller. With a JWT service the bearer token (or a
// token query parameter, for browser WebSocket clients) is required and
// verified. Without one, the identity headers set by the upstream gateway
// are trusted as-is.
func Identity(jwtSvc auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" {
				c.Set(ContextUserID, id)
				c.Set(ContextUserRole, auth.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole)))))
			}
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("missing bearer token")))
			return
		}
		claims, err := jwtSvc.Verify(token)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

// RequireRole rejects callers without an identity holding one of roles.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("identity required")))
			return
		}
		role := UserRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, apperrors.Forbidden(errors.New("role "+string(role)+" not allowed")))
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func UserRole(c *gin.Context) auth.Role {
	if v, ok := c.Get(ContextUserRole); ok {
		if r, ok := v.(auth.Role); ok {
			return r
		}
	}
	return ""
}
