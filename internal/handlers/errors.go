package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/payment"
	"boatmarket/internal/service"
)

func badRequest(c *gin.Context, code string, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code, "message": message})
}

// respondError maps service errors to status codes. Unexpected errors are
// logged and never echoed.
func (h HandlerSet) respondError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": verr.Field, "message": verr.Message})
	case errors.Is(err, service.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, service.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrListingDeleted):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "listing_deleted"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
	case errors.Is(err, payment.ErrProviderUnavailable):
		h.logger(c).Error().Err(err).Msg("payment provider unavailable")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
	default:
		h.logger(c).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
