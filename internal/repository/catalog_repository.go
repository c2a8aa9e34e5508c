package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"boatmarket/internal/database"
	"boatmarket/internal/models"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrPriceNotFound   = errors.New("price not found")
	// ErrProductMissing is returned when a price references a product that
	// has not been synced yet.
	ErrProductMissing = errors.New("price references unknown product")
)

const foreignKeyViolation = "23503"

// CatalogRepository stores the provider's product catalog as synced from
// webhook events.
type CatalogRepository struct {
	db database.DB
}

func NewCatalogRepository(db database.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) UpsertProduct(ctx context.Context, product models.Product) error {
	const query = `
		INSERT INTO products (id, active, name, description, image, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			image = EXCLUDED.image,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`
	_, err := database.Conn(ctx, r.db).Exec(ctx, query,
		product.ID,
		product.Active,
		product.Name,
		product.Description,
		product.Image,
		nonNilMap(product.Metadata),
	)
	return err
}

func (r *CatalogRepository) DeleteProduct(ctx context.Context, id string) error {
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *CatalogRepository) UpsertPrice(ctx context.Context, price models.Price) error {
	const query = `
		INSERT INTO prices (
			id, product_id, active, currency, type, unit_amount, interval,
			interval_count, trial_period_days, description, metadata, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			active = EXCLUDED.active,
			currency = EXCLUDED.currency,
			type = EXCLUDED.type,
			unit_amount = EXCLUDED.unit_amount,
			interval = EXCLUDED.interval,
			interval_count = EXCLUDED.interval_count,
			trial_period_days = EXCLUDED.trial_period_days,
			description = EXCLUDED.description,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`
	_, err := database.Conn(ctx, r.db).Exec(ctx, query,
		price.ID,
		price.ProductID,
		price.Active,
		price.Currency,
		price.Type,
		price.UnitAmount,
		price.Interval,
		price.IntervalCount,
		price.TrialPeriodDays,
		price.Description,
		nonNilMap(price.Metadata),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrProductMissing
		}
		return err
	}
	return nil
}

func (r *CatalogRepository) DeletePrice(ctx context.Context, id string) error {
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, `DELETE FROM prices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPriceNotFound
	}
	return nil
}

// PriceAvailable reports whether id is an active price of an active product.
func (r *CatalogRepository) PriceAvailable(ctx context.Context, id string) (bool, error) {
	const query = `
		SELECT pr.active AND p.active
		FROM prices pr
		JOIN products p ON p.id = pr.product_id
		WHERE pr.id = $1
	`
	var available bool
	err := database.Conn(ctx, r.db).QueryRow(ctx, query, id).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return available, nil
}

// ListActiveProducts returns active products with their active prices,
// ordered by product name and then unit amount.
func (r *CatalogRepository) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	const query = `
		SELECT p.id, p.active, p.name, p.description, p.image, p.metadata,
		       pr.id, pr.active, pr.currency, pr.type, pr.unit_amount, pr.interval,
		       pr.interval_count, pr.trial_period_days, pr.description, COALESCE(pr.metadata, '{}')
		FROM products p
		LEFT JOIN prices pr ON pr.product_id = p.id AND pr.active
		WHERE p.active
		ORDER BY p.name ASC, pr.unit_amount ASC
	`

	rows, err := database.Conn(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		products []models.Product
		index    = map[string]int{}
	)
	for rows.Next() {
		var (
			product                models.Product
			priceID, currency, typ *string
			priceActive            *bool
			price                  models.Price
			priceMeta              map[string]string
		)
		if err := rows.Scan(
			&product.ID,
			&product.Active,
			&product.Name,
			&product.Description,
			&product.Image,
			&product.Metadata,
			&priceID,
			&priceActive,
			&currency,
			&typ,
			&price.UnitAmount,
			&price.Interval,
			&price.IntervalCount,
			&price.TrialPeriodDays,
			&price.Description,
			&priceMeta,
		); err != nil {
			return nil, err
		}

		i, seen := index[product.ID]
		if !seen {
			product.Prices = []models.Price{}
			products = append(products, product)
			i = len(products) - 1
			index[product.ID] = i
		}
		if priceID == nil {
			continue
		}

		price.ID = *priceID
		price.ProductID = product.ID
		price.Active = priceActive != nil && *priceActive
		price.Currency = deref(currency)
		price.Type = deref(typ)
		price.Metadata = priceMeta
		products[i].Prices = append(products[i].Prices, price)
	}
	return products, rows.Err()
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
