package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"boatmarket/internal/models"
	"boatmarket/internal/payment"
	"boatmarket/internal/repository"
)

const (
	priceUpsertAttempts = 3
	priceUpsertDelay    = 2 * time.Second
)

type CatalogStore interface {
	UpsertProduct(ctx context.Context, product models.Product) error
	DeleteProduct(ctx context.Context, id string) error
	UpsertPrice(ctx context.Context, price models.Price) error
	DeletePrice(ctx context.Context, id string) error
	PriceAvailable(ctx context.Context, id string) (bool, error)
	ListActiveProducts(ctx context.Context) ([]models.Product, error)
}

// CatalogService mirrors the provider's products and prices so checkout can
// reject prices that are unknown or archived.
type CatalogService struct {
	store CatalogStore
	sleep func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

func NewCatalogService(store CatalogStore, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		store: store,
		sleep: sleepCtx,
		log:   log.With().Str("component", "catalog").Logger(),
	}
}

// Apply writes a catalog event. Deleting a row that was never synced is not
// an error.
func (s *CatalogService) Apply(ctx context.Context, evt payment.Event) error {
	switch evt.Type {
	case payment.EventProductUpserted:
		if evt.Product == nil {
			return payment.ErrMalformedEventBody
		}
		return s.store.UpsertProduct(ctx, *evt.Product)

	case payment.EventProductDeleted:
		if evt.Product == nil {
			return payment.ErrMalformedEventBody
		}
		err := s.store.DeleteProduct(ctx, evt.Product.ID)
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil
		}
		return err

	case payment.EventPriceUpserted:
		if evt.Price == nil {
			return payment.ErrMalformedEventBody
		}
		return s.upsertPrice(ctx, *evt.Price)

	case payment.EventPriceDeleted:
		if evt.Price == nil {
			return payment.ErrMalformedEventBody
		}
		err := s.store.DeletePrice(ctx, evt.Price.ID)
		if errors.Is(err, repository.ErrPriceNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: %s", payment.ErrUnhandledEventType, evt.Type)
}

// upsertPrice retries while the parent product is missing; the provider may
// deliver price.created before product.created.
func (s *CatalogService) upsertPrice(ctx context.Context, price models.Price) error {
	var err error
	for attempt := 1; attempt <= priceUpsertAttempts; attempt++ {
		err = s.store.UpsertPrice(ctx, price)
		if !errors.Is(err, repository.ErrProductMissing) {
			return err
		}
		s.log.Warn().
			Str("price_id", price.ID).
			Str("product_id", price.ProductID).
			Int("attempt", attempt).
			Msg("price arrived before its product")
		if attempt == priceUpsertAttempts {
			break
		}
		if serr := s.sleep(ctx, priceUpsertDelay); serr != nil {
			return serr
		}
	}
	return err
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	products, err := s.store.ListActiveProducts(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []models.Product{}
	}
	return products, nil
}

// CheckPrice returns a validation error unless ref is an active price of an
// active product.
func (s *CatalogService) CheckPrice(ctx context.Context, ref string) error {
	ok, err := s.store.PriceAvailable(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("priceRef", "unknown price")
	}
	return nil
}
