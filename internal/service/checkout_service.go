package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"boatmarket/internal/config"
	"boatmarket/internal/events"
	"boatmarket/internal/ids"
	"boatmarket/internal/models"
	"boatmarket/internal/payment"
	"boatmarket/internal/repository"
)

const (
	MaxDescriptionLen = 2000
	defaultCurrency   = "EUR"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type CheckoutInput struct {
	Draft           models.ListingDraft
	StagedImageKeys []string
	PriceRef        string
	ListingID       string
}

type CheckoutOutput struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

type CheckoutService struct {
	listings    ListingStore
	payments    PaymentStore
	customers   CustomerStore
	tx          Transactor
	provider    payment.Provider
	states      *ListingStateMachine
	promoter    *PromotionService
	staging     *StagingService
	deadLetters DeadLetterRecorder
	publisher   events.Publisher
	reapQueue   SessionReapQueue
	catalog     *CatalogService
	cfg         config.PaymentConfig
	maxImages   int
	log         zerolog.Logger
}

type CheckoutDeps struct {
	Listings    ListingStore
	Payments    PaymentStore
	Customers   CustomerStore
	Tx          Transactor
	Provider    payment.Provider
	States      *ListingStateMachine
	Promoter    *PromotionService
	Staging     *StagingService
	DeadLetters DeadLetterRecorder
	Publisher   events.Publisher
	ReapQueue   SessionReapQueue
	Catalog     *CatalogService
}

func NewCheckoutService(deps CheckoutDeps, cfg *config.AppConfig, log zerolog.Logger) *CheckoutService {
	return &CheckoutService{
		listings:    deps.Listings,
		payments:    deps.Payments,
		customers:   deps.Customers,
		tx:          deps.Tx,
		provider:    deps.Provider,
		states:      deps.States,
		promoter:    deps.Promoter,
		staging:     deps.Staging,
		deadLetters: deps.DeadLetters,
		publisher:   deps.Publisher,
		reapQueue:   deps.ReapQueue,
		catalog:     deps.Catalog,
		cfg:         cfg.Payment,
		maxImages:   cfg.Uploads.MaxFiles,
		log:         log.With().Str("component", "checkout").Logger(),
	}
}

// CreateCheckout validates the draft and opens a hosted checkout page whose
// metadata carries everything needed to materialise the listing later.
func (s *CheckoutService) CreateCheckout(ctx context.Context, user models.User, in CheckoutInput) (CheckoutOutput, error) {
	draft, err := NormalizeDraft(in.Draft)
	if err != nil {
		return CheckoutOutput{}, err
	}
	if err := s.validateStagedKeys(in.StagedImageKeys); err != nil {
		return CheckoutOutput{}, err
	}

	in.PriceRef = strings.TrimSpace(in.PriceRef)
	if in.PriceRef == "" {
		return CheckoutOutput{}, invalid("priceRef", "required")
	}
	if len(s.cfg.AllowedPrices) > 0 && !slices.Contains(s.cfg.AllowedPrices, in.PriceRef) {
		return CheckoutOutput{}, invalid("priceRef", "unknown price")
	}
	if s.catalog != nil {
		if err := s.catalog.CheckPrice(ctx, in.PriceRef); err != nil {
			return CheckoutOutput{}, err
		}
	}

	if in.ListingID != "" {
		listing, err := s.listings.GetByID(ctx, in.ListingID)
		if err != nil {
			if errors.Is(err, repository.ErrListingNotFound) {
				return CheckoutOutput{}, invalid("listingId", "unknown listing")
			}
			return CheckoutOutput{}, err
		}
		if !user.Owns(listing) {
			return CheckoutOutput{}, ErrForbidden
		}
		// Only an unpaid listing can be paid for; compensation may delete it.
		switch listing.Status {
		case models.ListingStatusPending:
		case models.ListingStatusDeleted:
			return CheckoutOutput{}, ErrListingDeleted
		default:
			return CheckoutOutput{}, ErrInvalidTransition
		}
	}

	meta, err := payment.EncodeMetadata(payment.CheckoutMetadata{
		UserID:     user.ID,
		ListingID:  in.ListingID,
		Draft:      &draft,
		StagedKeys: in.StagedImageKeys,
	})
	if err != nil {
		if errors.Is(err, payment.ErrMetadataTooLarge) {
			return CheckoutOutput{}, invalid("draft", "listing is too large to carry through checkout")
		}
		return CheckoutOutput{}, err
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return CheckoutOutput{}, err
	}

	intentMeta := map[string]string{payment.MetaUserID: user.ID}
	if in.ListingID != "" {
		intentMeta[payment.MetaListingID] = in.ListingID
	}

	session, err := s.provider.CreateCheckout(ctx, payment.CheckoutRequest{
		CustomerID:            customerID,
		PriceRef:              in.PriceRef,
		ClientReference:       user.ID,
		Metadata:              meta,
		PaymentIntentMetadata: intentMeta,
	})
	if err != nil {
		return CheckoutOutput{}, err
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("session_id", session.ID).
		Int("staged_images", len(in.StagedImageKeys)).
		Strs("metadata_keys", payment.MetadataKeys(meta)).
		Msg("checkout session created")

	return CheckoutOutput{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

func (s *CheckoutService) ensureCustomer(ctx context.Context, user models.User) (string, error) {
	customer, err := s.customers.GetByUserID(ctx, user.ID)
	if err == nil {
		return customer.ProviderCustomerID, nil
	}
	if !errors.Is(err, repository.ErrCustomerNotFound) {
		return "", err
	}

	providerID, err := s.provider.EnsureCustomer(ctx, user.Email, user.ID)
	if err != nil {
		return "", err
	}
	if err := s.customers.Upsert(ctx, models.Customer{ID: user.ID, ProviderCustomerID: providerID}); err != nil {
		return "", fmt.Errorf("store customer: %w", err)
	}
	return providerID, nil
}

func (s *CheckoutService) validateStagedKeys(keys []string) error {
	if s.maxImages > 0 && len(keys) > s.maxImages {
		return invalid("stagedImageKeys", fmt.Sprintf("at most %d images", s.maxImages))
	}
	for _, key := range keys {
		if _, ok := SessionFromKey(key); !ok {
			return invalid("stagedImageKeys", "not a staged image key: "+key)
		}
	}
	return nil
}

// NormalizeDraft trims and validates user-entered listing fields.
func NormalizeDraft(d models.ListingDraft) (models.ListingDraft, error) {
	d.Model = strings.TrimSpace(d.Model)
	d.Country = strings.TrimSpace(d.Country)
	d.Description = strings.TrimSpace(d.Description)
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))

	switch {
	case d.Model == "":
		return d, invalid("model", "required")
	case d.Country == "":
		return d, invalid("country", "required")
	case d.Description == "":
		return d, invalid("description", "required")
	case utf8.RuneCountInString(d.Description) > MaxDescriptionLen:
		return d, invalid("description", fmt.Sprintf("at most %d characters", MaxDescriptionLen))
	case math.IsNaN(d.Price) || math.IsInf(d.Price, 0) || d.Price < 0:
		return d, invalid("price", "must be a non-negative number")
	}

	if d.Currency == "" {
		d.Currency = defaultCurrency
	}
	if !currencyPattern.MatchString(d.Currency) {
		return d, invalid("currency", "must be a 3-letter code")
	}

	specs := make([]string, 0, len(d.Specifications))
	for _, spec := range d.Specifications {
		if spec = strings.TrimSpace(spec); spec != "" {
			specs = append(specs, spec)
		}
	}
	d.Specifications = specs
	return d, nil
}

// HandleEvent runs the side effects of a verified provider event. It never
// fails: errors and panics land in the dead-letter log so the provider is
// always acknowledged.
func (s *CheckoutService) HandleEvent(ctx context.Context, evt payment.Event) {
	if s.cfg.WebhookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WebhookTimeout)
		defer cancel()
	}

	logger := s.log.With().Str("event_id", evt.ID).Str("event_type", string(evt.Type)).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("webhook handler panicked")
			s.deadLetter(ctx, evt, fmt.Errorf("panic: %v", r))
		}
	}()

	var err error
	switch {
	case evt.IsCatalog():
		if s.catalog == nil {
			logger.Debug().Str("provider_type", evt.ProviderType).Msg("catalog sync disabled")
			return
		}
		err = s.catalog.Apply(ctx, evt)
	case evt.Type == payment.EventPaymentSucceeded:
		err = s.OnPaymentSucceeded(ctx, evt)
	case evt.Type == payment.EventCheckoutExpired:
		err = s.OnCheckoutExpired(ctx, evt)
	case evt.Type == payment.EventPaymentFailed:
		err = s.OnPaymentFailed(ctx, evt)
	default:
		logger.Debug().Str("provider_type", evt.ProviderType).Msg("event ignored")
		return
	}

	if err != nil {
		logger.Error().Err(err).Str("session_id", evt.SessionID).Msg("webhook side effects failed")
		s.deadLetter(ctx, evt, err)
		return
	}
	logger.Info().Str("session_id", evt.SessionID).Msg("webhook processed")
}

// OnPaymentSucceeded activates the listing named in metadata and then runs
// the materialisation path, which creates the listing when none exists yet.
func (s *CheckoutService) OnPaymentSucceeded(ctx context.Context, evt payment.Event) error {
	meta, err := payment.DecodeMetadata(evt.Metadata)
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	var errs []error
	if meta.ListingID != "" {
		if err := s.states.Activate(ctx, meta.ListingID); err != nil {
			errs = append(errs, fmt.Errorf("activate %s: %w", meta.ListingID, err))
		}
	}
	if err := s.materialize(ctx, evt, meta); err != nil {
		errs = append(errs, fmt.Errorf("materialize: %w", err))
	}
	return errors.Join(errs...)
}

func (s *CheckoutService) materialize(ctx context.Context, evt payment.Event, meta payment.CheckoutMetadata) error {
	if evt.SessionID == "" {
		return errors.New("event has no session id")
	}

	if _, err := s.payments.GetBySessionID(ctx, evt.SessionID); err == nil {
		s.log.Info().Str("session_id", evt.SessionID).Msg("payment already recorded, skipping")
		return nil
	} else if !errors.Is(err, repository.ErrPaymentNotFound) {
		return fmt.Errorf("lookup payment: %w", err)
	}

	userID, err := s.resolveUser(ctx, evt.CustomerID, meta.UserID)
	if err != nil {
		return err
	}

	listingID := meta.ListingID
	created := false
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if listingID == "" && meta.Draft != nil {
			listing := models.Listing{
				ID:             ids.New(),
				UserID:         userID,
				Model:          meta.Draft.Model,
				Price:          meta.Draft.Price,
				Currency:       meta.Draft.Currency,
				Country:        meta.Draft.Country,
				Description:    meta.Draft.Description,
				Specifications: meta.Draft.Specifications,
				VATPaid:        meta.Draft.VATPaid,
				Photos:         []string{},
				Status:         models.ListingStatusPending,
			}
			if err := s.listings.Create(ctx, listing); err != nil {
				return fmt.Errorf("create listing: %w", err)
			}
			listingID = listing.ID
			created = true
		}

		record := models.Payment{
			ID:                ids.New(),
			UserID:            userID,
			Amount:            float64(evt.AmountTotal) / 100,
			Status:            evt.PaymentStatus,
			ProviderSessionID: evt.SessionID,
		}
		if listingID != "" {
			record.ListingID = &listingID
		}
		return s.payments.Create(ctx, record)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicatePayment) {
			s.log.Info().Str("session_id", evt.SessionID).Msg("concurrent delivery already recorded payment")
			return nil
		}
		return err
	}
	if listingID == "" {
		s.log.Warn().Str("session_id", evt.SessionID).Msg("payment recorded without listing draft")
		return nil
	}

	var errs []error
	if len(meta.StagedKeys) > 0 {
		result := s.promoter.Promote(ctx, meta.StagedKeys, listingID)
		if len(result.FinalURLs) > 0 {
			store := s.listings.AppendPhotos
			if created {
				store = s.listings.SetPhotos
			}
			if err := store(ctx, listingID, result.FinalURLs); err != nil {
				errs = append(errs, fmt.Errorf("persist photos: %w", err))
			}
		}
		if len(result.Skipped) > 0 {
			s.log.Warn().Str("listing_id", listingID).Strs("skipped", result.Skipped).Msg("partial promotion")
		}
	}

	if created {
		if err := s.states.Activate(ctx, listingID); err != nil {
			errs = append(errs, fmt.Errorf("activate %s: %w", listingID, err))
		}
		s.publishMaterialized(ctx, listingID, userID)
	}

	s.reapSessions(ctx, meta.StagedKeys)
	return errors.Join(errs...)
}

func (s *CheckoutService) resolveUser(ctx context.Context, providerCustomerID string, fallback string) (string, error) {
	if providerCustomerID != "" {
		customer, err := s.customers.GetByProviderID(ctx, providerCustomerID)
		if err == nil {
			return customer.ID, nil
		}
		if !errors.Is(err, repository.ErrCustomerNotFound) {
			return "", fmt.Errorf("lookup customer: %w", err)
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("no user for customer %q", providerCustomerID)
	}
	return fallback, nil
}

// OnCheckoutExpired removes the listing named in metadata while it is still
// pending and drops the staged images of the abandoned checkout.
func (s *CheckoutService) OnCheckoutExpired(ctx context.Context, evt payment.Event) error {
	err := s.compensate(ctx, evt, "checkout expired")
	if meta, decodeErr := payment.DecodeMetadata(evt.Metadata); decodeErr == nil {
		s.reapSessions(ctx, meta.StagedKeys)
	}
	return err
}

// OnPaymentFailed removes the listing named in metadata while it is still
// pending. Staged images are kept because the customer may retry on the same
// checkout page.
func (s *CheckoutService) OnPaymentFailed(ctx context.Context, evt payment.Event) error {
	return s.compensate(ctx, evt, "payment failed")
}

func (s *CheckoutService) compensate(ctx context.Context, evt payment.Event, reason string) error {
	listingID := evt.Metadata[payment.MetaListingID]
	if listingID == "" {
		s.log.Debug().Str("event_id", evt.ID).Msg("no listing to clean up")
		return nil
	}

	result := s.states.CleanupUnpaid(ctx, listingID, reason)
	if !result.Success {
		return fmt.Errorf("emergency cleanup of %s failed", listingID)
	}
	return nil
}

// reapSessions wipes the staging sessions behind keys. Sessions that do not
// wipe cleanly are handed to the worker, and failing that to the reaper.
func (s *CheckoutService) reapSessions(ctx context.Context, keys []string) {
	for _, sid := range stagedSessions(keys) {
		if s.staging.ReapSession(ctx, sid) {
			continue
		}
		s.log.Warn().Str("staging_session", sid).Msg("staging session not fully reaped")
		if s.reapQueue == nil {
			continue
		}
		if err := s.reapQueue.EnqueueSessionReap(context.WithoutCancel(ctx), sid); err != nil {
			s.log.Warn().Err(err).Str("staging_session", sid).Msg("enqueue session reap failed")
		}
	}
}

func (s *CheckoutService) deadLetter(ctx context.Context, evt payment.Event, cause error) {
	if s.deadLetters == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	err := s.deadLetters.Record(ctx, events.DeadLetter{
		EventID:   evt.ID,
		EventType: string(evt.Type),
		SessionID: evt.SessionID,
		ListingID: evt.Metadata[payment.MetaListingID],
		Error:     cause.Error(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("event_id", evt.ID).Msg("dead letter write failed")
	}
}

func (s *CheckoutService) publishMaterialized(ctx context.Context, listingID, userID string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.ListingEvent{
		ID:         ids.New(),
		Type:       events.ListingMaterialized,
		ListingID:  listingID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("listing_id", listingID).Msg("publish materialized failed")
	}
}

func stagedSessions(keys []string) []string {
	var sessions []string
	for _, key := range keys {
		sid, ok := SessionFromKey(key)
		if ok && !slices.Contains(sessions, sid) {
			sessions = append(sessions, sid)
		}
	}
	return sessions
}
