package payment

import (
	"context"
	"errors"

	"boatmarket/internal/models"
)

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventCheckoutExpired  EventType = "checkout_expired"
	EventPaymentFailed    EventType = "payment_failed"
	// EventIgnored marks a recognised provider event that carries nothing for
	// the listing lifecycle, e.g. a subscription-mode checkout.
	EventIgnored EventType = "ignored"

	EventProductUpserted EventType = "product_upserted"
	EventProductDeleted  EventType = "product_deleted"
	EventPriceUpserted   EventType = "price_upserted"
	EventPriceDeleted    EventType = "price_deleted"
)

var (
	ErrMissingSignature    = errors.New("missing webhook signature")
	ErrWebhookSecretUnset  = errors.New("webhook secret not configured")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnhandledEventType  = errors.New("unhandled event type")
	ErrMalformedEventBody  = errors.New("malformed event body")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// Event is a verified webhook event reduced to what the checkout flow reads.
type Event struct {
	ID            string
	Type          EventType
	ProviderType  string
	SessionID     string
	CustomerID    string
	AmountTotal   int64
	PaymentStatus string
	Metadata      map[string]string

	// Set for catalog events only.
	Product *models.Product
	Price   *models.Price
}

// IsCatalog reports whether the event syncs the product catalog.
func (e Event) IsCatalog() bool {
	switch e.Type {
	case EventProductUpserted, EventProductDeleted, EventPriceUpserted, EventPriceDeleted:
		return true
	}
	return false
}

type CheckoutRequest struct {
	CustomerID            string
	PriceRef              string
	ClientReference       string
	Metadata              map[string]string
	PaymentIntentMetadata map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type Provider interface {
	// EnsureCustomer returns the provider customer for email, creating one
	// when the provider has none.
	EnsureCustomer(ctx context.Context, email string, userID string) (string, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	// ParseEvent verifies the signature header against payload before decoding.
	ParseEvent(payload []byte, signature string) (Event, error)
}
