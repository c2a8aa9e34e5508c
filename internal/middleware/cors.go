package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/security"
)

var corsAllowHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-Id",
	security.HeaderDate,
	security.HeaderNonce,
	security.HeaderSignature,
}, ", ")

// CORS reflects allowed origins. An empty list allows every origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originMap[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		header := c.Writer.Header()
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := originMap[origin]; allowAll || ok {
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Credentials", "true")
			}
			header.Add("Vary", "Origin")
		}

		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		header.Set("Access-Control-Expose-Headers", "X-Request-Id")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
