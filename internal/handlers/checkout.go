package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/middleware"
	"boatmarket/internal/models"
	"boatmarket/internal/payment"
	"boatmarket/internal/service"
)

const maxWebhookBody = 512 * 1024

type draftRequest struct {
	Model          string   `json:"model"`
	Price          float64  `json:"price"`
	Currency       string   `json:"currency"`
	Country        string   `json:"country"`
	Description    string   `json:"description"`
	Specifications []string `json:"specifications"`
	VATPaid        bool     `json:"vatPaid"`
}

type checkoutRequest struct {
	Draft           draftRequest `json:"draft"`
	StagedImageKeys []string     `json:"stagedImageKeys"`
	PriceRef        string       `json:"priceRef" binding:"required"`
	ListingID       string       `json:"listingId"`
}

func (h HandlerSet) CreateCheckout(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}

	out, err := h.checkout.CreateCheckout(c.Request.Context(), user, service.CheckoutInput{
		Draft: models.ListingDraft{
			Model:          req.Draft.Model,
			Price:          req.Draft.Price,
			Currency:       req.Draft.Currency,
			Country:        req.Draft.Country,
			Description:    req.Draft.Description,
			Specifications: req.Draft.Specifications,
			VATPaid:        req.Draft.VATPaid,
		},
		StagedImageKeys: req.StagedImageKeys,
		PriceRef:        req.PriceRef,
		ListingID:       req.ListingID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

// PaymentWebhook verifies the provider signature before anything else.
// Verified events are always acknowledged; side-effect failures go to the
// dead-letter log.
func (h HandlerSet) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "invalid_body", "could not read body")
		return
	}

	evt, err := h.provider.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log := h.logger(c)
		switch {
		case errors.Is(err, payment.ErrUnhandledEventType):
			log.Info().Err(err).Msg("webhook event type not handled")
			badRequest(c, "unhandled_event_type", "event type not handled")
		case errors.Is(err, payment.ErrWebhookSecretUnset):
			log.Error().Msg("webhook secret not configured")
			badRequest(c, "webhook_not_configured", "webhook secret not configured")
		case errors.Is(err, payment.ErrMissingSignature):
			badRequest(c, "missing_signature", "signature header required")
		case errors.Is(err, payment.ErrMalformedEventBody):
			badRequest(c, "malformed_event", "event body could not be decoded")
		default:
			log.Warn().Err(err).Msg("webhook signature rejected")
			badRequest(c, "invalid_signature", "signature verification failed")
		}
		return
	}

	h.checkout.HandleEvent(c.Request.Context(), evt)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
