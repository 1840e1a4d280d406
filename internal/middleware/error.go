package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/nurse-call-api/pkg/logger"
)

// ErrorLogger logs errors attached to the context with c.Error. The
// response itself is written by the handler.
func ErrorLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, e := range c.Errors {
			log.ZL.Error().
				Err(e.Err).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}
	}
}
