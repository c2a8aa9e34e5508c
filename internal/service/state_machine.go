package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"boatmarket/internal/config"
	"boatmarket/internal/events"
	"boatmarket/internal/ids"
	"boatmarket/internal/models"
	"boatmarket/internal/repository"
)

type CleanupMethod string

const (
	CleanupDirect      CleanupMethod = "direct"
	CleanupRetry       CleanupMethod = "retry"
	CleanupMarkDeleted CleanupMethod = "mark_deleted"
	CleanupFailed      CleanupMethod = "failed"
)

type CleanupResult struct {
	Success bool          `json:"success"`
	Method  CleanupMethod `json:"method"`
	Retries int           `json:"retries,omitempty"`
}

// ListingStateMachine owns every listing status change. Updates are guarded
// on the expected current status so a concurrent delete is never undone.
type ListingStateMachine struct {
	listings  ListingStore
	publisher events.Publisher
	attempts  int
	base      time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

func NewListingStateMachine(listings ListingStore, publisher events.Publisher, cfg config.CleanupConfig, log zerolog.Logger) *ListingStateMachine {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &ListingStateMachine{
		listings:  listings,
		publisher: publisher,
		attempts:  attempts,
		base:      cfg.RetryBase,
		sleep:     sleepCtx,
		log:       log.With().Str("component", "listing_state").Logger(),
	}
}

// Activate moves a pending listing to active. Activating an active listing
// is a no-op.
func (m *ListingStateMachine) Activate(ctx context.Context, id string) error {
	return m.transition(ctx, id, models.ListingStatusActive, events.ListingActivated, models.ListingStatusPending)
}

// MarkInactive hides a pending or active listing.
func (m *ListingStateMachine) MarkInactive(ctx context.Context, id string) error {
	return m.transition(ctx, id, models.ListingStatusInactive, events.ListingDeactivated,
		models.ListingStatusPending, models.ListingStatusActive)
}

func (m *ListingStateMachine) transition(ctx context.Context, id string, to models.ListingStatus, evt events.Type, from ...models.ListingStatus) error {
	current, err := m.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if current == to {
		return nil
	}
	if !statusIn(current, from) {
		return rejectFrom(current)
	}

	if err := m.listings.UpdateStatus(ctx, id, to, from...); err != nil {
		if !errors.Is(err, repository.ErrListingNotFound) {
			return err
		}
		// Lost a race: report against whatever the row holds now.
		current, err = m.currentStatus(ctx, id)
		if err != nil {
			return err
		}
		if current == to {
			return nil
		}
		return rejectFrom(current)
	}

	m.log.Info().Str("listing_id", id).Str("from", string(current)).Str("to", string(to)).Msg("listing status changed")
	m.publish(ctx, evt, id, "")
	return nil
}

func (m *ListingStateMachine) currentStatus(ctx context.Context, id string) (models.ListingStatus, error) {
	listing, err := m.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return listing.Status, nil
}

// EmergencyCleanup removes a listing that must not survive, escalating from
// a direct delete to retried deletes and finally a soft delete. A listing
// that no longer exists counts as cleaned up.
func (m *ListingStateMachine) EmergencyCleanup(ctx context.Context, id string, reason string) CleanupResult {
	return m.cleanup(ctx, id, reason)
}

// CleanupUnpaid runs the same ladder but only touches the listing while it is
// still pending. Active and inactive listings are left alone and reported as
// a successful direct cleanup.
func (m *ListingStateMachine) CleanupUnpaid(ctx context.Context, id string, reason string) CleanupResult {
	return m.cleanup(ctx, id, reason, models.ListingStatusPending)
}

func (m *ListingStateMachine) cleanup(ctx context.Context, id string, reason string, only ...models.ListingStatus) CleanupResult {
	logger := m.log.With().Str("listing_id", id).Str("reason", reason).Logger()
	logger.Warn().Msg("emergency cleanup triggered")

	removed, err := m.hardDelete(ctx, id, only...)
	if err == nil {
		if removed {
			m.publish(ctx, events.ListingDeleted, id, reason)
		}
		return CleanupResult{Success: true, Method: CleanupDirect}
	}
	logger.Error().Err(err).Msg("direct delete failed, retrying")

	failures := 0
	for failures < m.attempts {
		removed, err = m.hardDelete(ctx, id, only...)
		if err == nil {
			logger.Info().Int("retries", failures).Msg("emergency cleanup succeeded after retries")
			if removed {
				m.publish(ctx, events.ListingDeleted, id, reason)
			}
			return CleanupResult{Success: true, Method: CleanupRetry, Retries: failures}
		}
		failures++
		logger.Error().Err(err).Int("attempt", failures).Msg("retry delete failed")

		if failures < m.attempts {
			if m.sleep(ctx, time.Duration(1<<failures)*m.base) != nil {
				break
			}
		}
	}

	// The soft delete must land even when the caller's deadline has passed.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err = m.listings.UpdateStatus(markCtx, id, models.ListingStatusDeleted, only...)
	if err == nil {
		logger.Warn().Msg("listing marked deleted instead of removed")
		m.publish(markCtx, events.ListingDeleted, id, reason)
		return CleanupResult{Success: true, Method: CleanupMarkDeleted, Retries: failures}
	}
	if errors.Is(err, repository.ErrListingNotFound) {
		return CleanupResult{Success: true, Method: CleanupMarkDeleted, Retries: failures}
	}

	logger.Error().
		Err(err).
		Bool("requires_manual_intervention", true).
		Msg("emergency cleanup exhausted every strategy")
	return CleanupResult{Success: false, Method: CleanupFailed, Retries: failures}
}

// hardDelete reports whether a row was removed. A row that is missing, or
// outside only, is not an error.
func (m *ListingStateMachine) hardDelete(ctx context.Context, id string, only ...models.ListingStatus) (bool, error) {
	err := m.listings.Delete(ctx, id, only...)
	if errors.Is(err, repository.ErrListingNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *ListingStateMachine) ListByStatus(ctx context.Context, status models.ListingStatus) ([]models.ListingWithOwner, error) {
	if !status.Valid() {
		return nil, invalid("status", "must be one of pending, active, inactive, deleted")
	}
	listings, err := m.listings.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	if listings == nil {
		listings = []models.ListingWithOwner{}
	}
	return listings, nil
}

func (m *ListingStateMachine) publish(ctx context.Context, typ events.Type, listingID string, reason string) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.Publish(ctx, events.ListingEvent{
		ID:         ids.New(),
		Type:       typ,
		ListingID:  listingID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("listing_id", listingID).Str("event", string(typ)).Msg("publish listing event failed")
	}
}

func rejectFrom(current models.ListingStatus) error {
	if current == models.ListingStatusDeleted {
		return ErrListingDeleted
	}
	return ErrInvalidTransition
}

func statusIn(s models.ListingStatus, set []models.ListingStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
