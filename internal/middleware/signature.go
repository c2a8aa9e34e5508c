package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"boatmarket/internal/security"
)

const (
	signatureMaxAge  = 5 * time.Minute
	signatureMaxSkew = 2 * time.Minute
	nonceKeyPrefix   = "ops:nonce:"
)

// OperatorSignature guards operator endpoints with an HMAC over the
// canonical request plus a single-use nonce. An empty secret disables the
// routes.
func OperatorSignature(secret string, nonces redis.Cmdable) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "operator_disabled"})
			return
		}

		h, err := security.ExtractSignatureHeaders(c.Request.Header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature_required"})
			return
		}

		requestTime, err := time.Parse(time.RFC3339, h.Date)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_date"})
			return
		}
		if time.Since(requestTime) > signatureMaxAge || time.Until(requestTime) > signatureMaxSkew {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request_expired"})
			return
		}

		rawBody, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		if !security.ValidateSignature(secret, c.Request, rawBody, h) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}

		fresh, err := nonces.SetNX(c.Request.Context(), nonceKeyPrefix+h.Nonce, "1", signatureMaxAge).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "nonce_store_unavailable"})
			return
		}
		if !fresh {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "replay_detected"})
			return
		}

		c.Next()
	}
}
