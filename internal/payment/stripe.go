package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"boatmarket/internal/config"
	"boatmarket/internal/models"
)

// Provider event types the checkout flow subscribes to.
const (
	stripeCheckoutCompleted          = "checkout.session.completed"
	stripeCheckoutAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	stripeCheckoutExpired            = "checkout.session.expired"
	stripeCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
	stripePaymentIntentFailed        = "payment_intent.payment_failed"

	stripeProductCreated = "product.created"
	stripeProductUpdated = "product.updated"
	stripeProductDeleted = "product.deleted"
	stripePriceCreated   = "price.created"
	stripePriceUpdated   = "price.updated"
	stripePriceDeleted   = "price.deleted"
)

type StripeProvider struct {
	api *client.API
	cfg config.PaymentConfig
	log zerolog.Logger
}

func NewStripeProvider(cfg config.PaymentConfig, log zerolog.Logger) *StripeProvider {
	return &StripeProvider{
		api: client.New(cfg.SecretKey, nil),
		cfg: cfg,
		log: log.With().Str("component", "stripe").Logger(),
	}
}

func (p *StripeProvider) EnsureCustomer(ctx context.Context, email string, userID string) (string, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := p.api.Customers.List(listParams)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("%w: list customers: %v", ErrProviderUnavailable, err)
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrProviderUnavailable, err)
	}
	return customer.ID, nil
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.cfg.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.cfg.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.PaymentIntentMetadata,
		},
	}
	if req.ClientReference != "" {
		params.ClientReferenceID = stripe.String(req.ClientReference)
	}
	params.Context = ctx
	params.Metadata = req.Metadata

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: create checkout session: %v", ErrProviderUnavailable, err)
	}
	return CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *StripeProvider) ParseEvent(payload []byte, signature string) (Event, error) {
	if p.cfg.WebhookSecret == "" {
		return Event{}, ErrWebhookSecretUnset
	}
	if signature == "" {
		return Event{}, ErrMissingSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrTooOld) {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEventBody, err)
	}
	if evt.Data == nil {
		return Event{}, ErrMalformedEventBody
	}

	out := Event{ID: evt.ID, ProviderType: string(evt.Type)}

	switch evt.Type {
	case stripeCheckoutCompleted,
		stripeCheckoutAsyncPaymentOK,
		stripeCheckoutExpired,
		stripeCheckoutAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEventBody, err)
		}
		out.SessionID = session.ID
		out.AmountTotal = session.AmountTotal
		out.PaymentStatus = string(session.PaymentStatus)
		out.Metadata = session.Metadata
		if session.Customer != nil {
			out.CustomerID = session.Customer.ID
		}

		switch {
		case session.Mode != stripe.CheckoutSessionModePayment:
			out.Type = EventIgnored
		case evt.Type == stripeCheckoutExpired:
			out.Type = EventCheckoutExpired
		case evt.Type == stripeCheckoutAsyncPaymentFailed:
			out.Type = EventPaymentFailed
		case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid:
			// Delayed payment methods complete the session before funds
			// arrive; async_payment_succeeded follows.
			out.Type = EventIgnored
		default:
			out.Type = EventPaymentSucceeded
		}

	case stripePaymentIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEventBody, err)
		}
		out.Type = EventPaymentFailed
		out.Metadata = intent.Metadata
		out.AmountTotal = intent.Amount
		out.PaymentStatus = string(intent.Status)
		if intent.Customer != nil {
			out.CustomerID = intent.Customer.ID
		}

	case stripeProductCreated, stripeProductUpdated, stripeProductDeleted:
		var product stripe.Product
		if err := json.Unmarshal(evt.Data.Raw, &product); err != nil || product.ID == "" {
			return Event{}, fmt.Errorf("%w: product object", ErrMalformedEventBody)
		}
		out.Type = EventProductUpserted
		if evt.Type == stripeProductDeleted {
			out.Type = EventProductDeleted
		}
		out.Product = catalogProduct(&product)

	case stripePriceCreated, stripePriceUpdated, stripePriceDeleted:
		var price stripe.Price
		if err := json.Unmarshal(evt.Data.Raw, &price); err != nil || price.ID == "" {
			return Event{}, fmt.Errorf("%w: price object", ErrMalformedEventBody)
		}
		out.Type = EventPriceUpserted
		if evt.Type == stripePriceDeleted {
			out.Type = EventPriceDeleted
		}
		out.Price = catalogPrice(&price)

	default:
		return Event{}, fmt.Errorf("%w: %s", ErrUnhandledEventType, evt.Type)
	}

	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out, nil
}

func catalogProduct(p *stripe.Product) *models.Product {
	out := &models.Product{
		ID:       p.ID,
		Active:   p.Active,
		Name:     p.Name,
		Metadata: p.Metadata,
	}
	if p.Description != "" {
		out.Description = stripe.String(p.Description)
	}
	if len(p.Images) > 0 {
		out.Image = stripe.String(p.Images[0])
	}
	return out
}

func catalogPrice(p *stripe.Price) *models.Price {
	out := &models.Price{
		ID:         p.ID,
		Active:     p.Active,
		Currency:   string(p.Currency),
		Type:       string(p.Type),
		UnitAmount: stripe.Int64(p.UnitAmount),
		Metadata:   p.Metadata,
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	if p.Nickname != "" {
		out.Description = stripe.String(p.Nickname)
	}
	if r := p.Recurring; r != nil {
		out.Interval = stripe.String(string(r.Interval))
		out.IntervalCount = stripe.Int64(r.IntervalCount)
		out.TrialPeriodDays = stripe.Int64(r.TrialPeriodDays)
	}
	return out
}
