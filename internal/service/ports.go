package service

import (
	"context"

	"boatmarket/internal/events"
	"boatmarket/internal/models"
	"boatmarket/internal/repository"
	"boatmarket/internal/storage"
)

type BlobStore interface {
	Put(ctx context.Context, in storage.PutInput) (string, error)
	Get(ctx context.Context, key string) (storage.Blob, error)
	Delete(ctx context.Context, key string) bool
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	PublicURL(key string) string
	KeyFromURL(url string) (string, bool)
}

type ListingStore interface {
	Create(ctx context.Context, listing models.Listing) error
	GetByID(ctx context.Context, id string) (models.Listing, error)
	UpdateStatus(ctx context.Context, id string, status models.ListingStatus, from ...models.ListingStatus) error
	SetPhotos(ctx context.Context, id string, photos []string) error
	AppendPhotos(ctx context.Context, id string, photos []string) error
	Delete(ctx context.Context, id string, from ...models.ListingStatus) error
	ListByStatus(ctx context.Context, status models.ListingStatus) ([]models.ListingWithOwner, error)
	ListByUser(ctx context.Context, userID string) ([]models.Listing, error)
	Search(ctx context.Context, filter repository.ListingFilter) ([]models.Listing, error)
}

type PaymentStore interface {
	Create(ctx context.Context, payment models.Payment) error
	GetBySessionID(ctx context.Context, sessionID string) (models.Payment, error)
}

type CustomerStore interface {
	GetByUserID(ctx context.Context, userID string) (models.Customer, error)
	GetByProviderID(ctx context.Context, providerCustomerID string) (models.Customer, error)
	Upsert(ctx context.Context, customer models.Customer) error
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type DeadLetterRecorder interface {
	Record(ctx context.Context, entry events.DeadLetter) error
}

type SessionReapQueue interface {
	EnqueueSessionReap(ctx context.Context, sessionID string) error
}
