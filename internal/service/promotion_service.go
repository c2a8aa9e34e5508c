package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"boatmarket/internal/config"
	"boatmarket/internal/storage"
)

const defaultPromotedName = "image.jpg"

type PromotionResult struct {
	Success   bool     `json:"success"`
	FinalURLs []string `json:"finalUrls"`
	Skipped   []string `json:"skipped,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ListingNamespace returns the permanent object prefix of a listing.
func ListingNamespace(listingID string) string {
	return "listings/" + listingID
}

type PromotionService struct {
	store       BlobStore
	timeout     time.Duration
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

func NewPromotionService(store BlobStore, cfg config.PromotionConfig, log zerolog.Logger) *PromotionService {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PromotionService{
		store:       store,
		timeout:     cfg.PerFileTimeout,
		concurrency: concurrency,
		log:         log.With().Str("component", "promoter").Logger(),
		now:         time.Now,
	}
}

// Promote moves staged blobs into the listing's namespace. A key that is
// missing, fails or times out is skipped; FinalURLs keeps the input order of
// the keys that made it.
func (s *PromotionService) Promote(ctx context.Context, tempKeys []string, listingID string) PromotionResult {
	if listingID == "" {
		return PromotionResult{Error: "listing id required"}
	}
	if len(tempKeys) == 0 {
		return PromotionResult{Success: true, FinalURLs: []string{}}
	}

	urls := make([]string, len(tempKeys))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, key := range tempKeys {
		i, key := i, key
		g.Go(func() error {
			url, err := s.promoteOne(ctx, key, listingID)
			if err != nil {
				s.log.Warn().Err(err).Str("key", key).Str("listing_id", listingID).Msg("skip staged image")
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	result := PromotionResult{Success: true, FinalURLs: make([]string, 0, len(tempKeys))}
	for i, url := range urls {
		if url == "" {
			result.Skipped = append(result.Skipped, tempKeys[i])
			continue
		}
		result.FinalURLs = append(result.FinalURLs, url)
	}
	if len(result.Skipped) > 0 {
		result.Error = fmt.Sprintf("%d of %d images skipped", len(result.Skipped), len(tempKeys))
	}

	s.log.Info().
		Str("listing_id", listingID).
		Int("promoted", len(result.FinalURLs)).
		Int("skipped", len(result.Skipped)).
		Msg("staged images promoted")
	return result
}

func (s *PromotionService) promoteOne(ctx context.Context, key string, listingID string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	blob, err := s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}

	filename := storage.KeyFilename(key, defaultPromotedName)
	newKey := storage.GenerateKey(ListingNamespace(listingID), filename, s.now())

	extra := map[string]string{storage.MetaMovedFrom: key}
	if v, ok := blob.Metadata[storage.MetaConverted]; ok {
		extra[storage.MetaConverted] = v
	}
	originalName := blob.Metadata[storage.MetaOriginalName]
	if originalName == "" {
		originalName = filename
	}

	url, err := s.store.Put(ctx, storage.PutInput{
		Key:          newKey,
		Data:         blob.Data,
		ContentType:  blob.ContentType,
		Origin:       listingID,
		OriginalName: originalName,
		Extra:        extra,
	})
	if err != nil {
		return "", fmt.Errorf("put: %w", err)
	}

	// The copy is in place; a failed delete leaves an orphan for the reaper.
	if !s.store.Delete(ctx, key) {
		s.log.Warn().Str("key", key).Msg("staged original not deleted after promotion")
	}
	return url, nil
}
