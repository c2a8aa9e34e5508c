package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"boatmarket/internal/config"
	"boatmarket/internal/events"
	"boatmarket/internal/ids"
	"boatmarket/internal/models"
	"boatmarket/internal/repository"
	"boatmarket/internal/storage"
)

const maxSearchLimit = 100

type UploadImagesResult struct {
	URLs   []string      `json:"urls"`
	Failed []FileFailure `json:"failed"`
}

type ListingService struct {
	listings  ListingStore
	payments  PaymentStore
	store     BlobStore
	publisher events.Publisher
	uploads   config.UploadConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewListingService(
	listings ListingStore,
	payments PaymentStore,
	store BlobStore,
	publisher events.Publisher,
	uploads config.UploadConfig,
	log zerolog.Logger,
) *ListingService {
	return &ListingService{
		listings:  listings,
		payments:  payments,
		store:     store,
		publisher: publisher,
		uploads:   uploads,
		log:       log.With().Str("component", "listings").Logger(),
		now:       time.Now,
	}
}

func (s *ListingService) Search(ctx context.Context, filter repository.ListingFilter) ([]models.Listing, error) {
	if filter.Limit <= 0 || filter.Limit > maxSearchLimit {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Currency = strings.ToUpper(filter.Currency)

	listings, err := s.listings.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	return listings, nil
}

// Get returns an active listing to anyone and any other non-deleted listing
// to its owner.
func (s *ListingService) Get(ctx context.Context, id string, viewer *models.User) (models.Listing, error) {
	listing, err := s.load(ctx, id)
	if err != nil {
		return models.Listing{}, err
	}
	if listing.Status == models.ListingStatusActive {
		return listing, nil
	}
	if listing.Status != models.ListingStatusDeleted && viewer != nil && viewer.Owns(listing) {
		return listing, nil
	}
	return models.Listing{}, ErrNotFound
}

func (s *ListingService) ListMine(ctx context.Context, user models.User) ([]models.Listing, error) {
	listings, err := s.listings.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	return listings, nil
}

// ListingForSession finds the listing a checkout session paid for. It is
// ErrNotFound until the payment webhook has been processed.
func (s *ListingService) ListingForSession(ctx context.Context, user models.User, sessionID string) (models.Listing, error) {
	record, err := s.payments.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return models.Listing{}, ErrNotFound
		}
		return models.Listing{}, err
	}
	if record.UserID != user.ID || record.ListingID == nil {
		return models.Listing{}, ErrNotFound
	}
	return s.load(ctx, *record.ListingID)
}

// UploadListingImages converts and stores images directly under an existing
// listing. Files that fail are reported next to the stored URLs.
func (s *ListingService) UploadListingImages(ctx context.Context, user models.User, listingID string, files []UploadFile) (UploadImagesResult, error) {
	listing, err := s.load(ctx, listingID)
	if err != nil {
		return UploadImagesResult{}, err
	}
	if !user.Owns(listing) {
		return UploadImagesResult{}, ErrForbidden
	}
	if listing.Status == models.ListingStatusDeleted {
		return UploadImagesResult{}, ErrListingDeleted
	}
	if len(files) == 0 {
		return UploadImagesResult{}, invalid("file", "no files")
	}
	if s.uploads.MaxFiles > 0 && len(files) > s.uploads.MaxFiles {
		return UploadImagesResult{}, invalid("file", "too many files")
	}

	result := UploadImagesResult{URLs: []string{}, Failed: []FileFailure{}}
	quality := storage.ClampQuality(s.uploads.Quality)

	for _, file := range files {
		if err := ValidateUpload(file, s.uploads.MaxFileSize); err != nil {
			result.Failed = append(result.Failed, FileFailure{Filename: file.Filename, Error: err.Error()})
			continue
		}

		data, name, err := storage.ToWebFormat(file.Data, file.Filename, quality)
		if err != nil {
			s.log.Warn().Err(err).Str("listing_id", listingID).Msg("listing image conversion failed")
			result.Failed = append(result.Failed, FileFailure{Filename: file.Filename, Error: "image conversion failed"})
			continue
		}

		url, err := s.store.Put(ctx, storage.PutInput{
			Key:          storage.GenerateKey(ListingNamespace(listingID), name, s.now()),
			Data:         data,
			ContentType:  storage.WebPContentType,
			Origin:       listingID,
			OriginalName: file.Filename,
			Extra: map[string]string{
				storage.MetaConverted: "true",
				storage.MetaQuality:   strconv.Itoa(quality),
			},
		})
		if err != nil {
			s.log.Error().Err(err).Str("listing_id", listingID).Msg("listing image put failed")
			result.Failed = append(result.Failed, FileFailure{Filename: file.Filename, Error: "storage unavailable"})
			continue
		}
		result.URLs = append(result.URLs, url)
	}

	if len(result.URLs) > 0 {
		if err := s.listings.AppendPhotos(ctx, listingID, result.URLs); err != nil {
			return result, err
		}
	}
	return result, nil
}

// DeleteListing removes the row, then its permanent images. Payments keep
// their history with a null listing reference.
func (s *ListingService) DeleteListing(ctx context.Context, user models.User, id string) error {
	listing, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !user.Owns(listing) && !user.IsAdmin() {
		return ErrForbidden
	}

	if err := s.listings.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return ErrNotFound
		}
		return err
	}

	keys, err := s.store.ListByPrefix(ctx, ListingNamespace(id)+"/")
	if err != nil {
		s.log.Error().Err(err).Str("listing_id", id).Msg("list listing images failed")
	} else {
		deleted, failed := deleteKeys(ctx, s.store, keys)
		s.log.Info().Str("listing_id", id).Int("deleted", deleted).Int("failed", failed).Msg("listing images removed")
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.ListingEvent{
			ID:         ids.New(),
			Type:       events.ListingDeleted,
			ListingID:  id,
			UserID:     user.ID,
			Reason:     "deleted by user",
			OccurredAt: time.Now().UTC(),
		}); err != nil {
			s.log.Warn().Err(err).Str("listing_id", id).Msg("publish listing deleted failed")
		}
	}
	return nil
}

// Image returns a stored image. Only staged and listing namespaces are
// served.
func (s *ListingService) Image(ctx context.Context, key string) (storage.Blob, error) {
	key = strings.TrimPrefix(key, "/")
	if strings.Contains(key, "..") ||
		!(strings.HasPrefix(key, "listings/") || strings.HasPrefix(key, StagingPrefix)) {
		return storage.Blob{}, ErrNotFound
	}
	blob, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.Blob{}, ErrNotFound
		}
		return storage.Blob{}, err
	}
	return blob, nil
}

func (s *ListingService) load(ctx context.Context, id string) (models.Listing, error) {
	listing, err := s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return models.Listing{}, ErrNotFound
		}
		return models.Listing{}, err
	}
	return listing, nil
}
