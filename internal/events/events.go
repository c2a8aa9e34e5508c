package events

import (
	"context"
	"time"
)

type Type string

const (
	ListingActivated    Type = "listing.activated"
	ListingDeactivated  Type = "listing.deactivated"
	ListingDeleted      Type = "listing.deleted"
	ListingMaterialized Type = "listing.materialized"
)

// ListingEvent is published after a committed listing state change.
type ListingEvent struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ListingID  string    `json:"listingId"`
	UserID     string    `json:"userId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event ListingEvent) error
	Close() error
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ListingEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
