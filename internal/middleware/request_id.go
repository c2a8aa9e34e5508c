package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-Id"

// RequestID tags the request and stores a request-scoped logger in its
// context, retrievable with zerolog.Ctx.
func RequestID(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		c.Set(requestIDHeader, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		scoped := log.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(scoped.WithContext(c.Request.Context()))

		c.Next()
	}
}
