package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"boatmarket/internal/database"
	"boatmarket/internal/models"
)

var ErrListingNotFound = errors.New("listing not found")

const listingColumns = `id, user_id, model, price, currency, country, description,
		       specifications, vat_paid, photos, status, created_at, updated_at`

type ListingFilter struct {
	Country  string
	Model    string
	Currency string
	MinPrice *float64
	MaxPrice *float64
	VATPaid  *bool
	Limit    int
	Offset   int
}

type ListingRepository struct {
	db database.DB
}

func NewListingRepository(db database.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) Create(ctx context.Context, listing models.Listing) error {
	const query = `
		INSERT INTO listings (
			id, user_id, model, price, currency, country, description,
			specifications, vat_paid, photos, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW()
		)
	`

	_, err := database.Conn(ctx, r.db).Exec(ctx, query,
		listing.ID,
		listing.UserID,
		listing.Model,
		listing.Price,
		listing.Currency,
		listing.Country,
		listing.Description,
		nonNil(listing.Specifications),
		listing.VATPaid,
		nonNil(listing.Photos),
		string(listing.Status),
	)
	return err
}

func (r *ListingRepository) GetByID(ctx context.Context, id string) (models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	listing, err := scanListing(database.Conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Listing{}, ErrListingNotFound
		}
		return models.Listing{}, err
	}
	return listing, nil
}

// UpdateStatus moves the listing to status. When from is non-empty the update
// only applies while the current status is one of from; a guarded update that
// matches nothing reports ErrListingNotFound.
func (r *ListingRepository) UpdateStatus(ctx context.Context, id string, status models.ListingStatus, from ...models.ListingStatus) error {
	var (
		query string
		args  []any
	)
	if len(from) == 0 {
		query = `UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1`
		args = []any{id, string(status)}
	} else {
		query = `UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1 AND status = ANY($3)`
		args = []any{id, string(status), statusStrings(from)}
	}

	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (r *ListingRepository) SetPhotos(ctx context.Context, id string, photos []string) error {
	const query = `UPDATE listings SET photos = $2, updated_at = NOW() WHERE id = $1`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, id, nonNil(photos))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (r *ListingRepository) AppendPhotos(ctx context.Context, id string, photos []string) error {
	const query = `UPDATE listings SET photos = photos || $2::text[], updated_at = NOW() WHERE id = $1`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, id, nonNil(photos))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

// Delete removes the listing. Like UpdateStatus, a non-empty from limits the
// delete to rows currently in one of those statuses.
func (r *ListingRepository) Delete(ctx context.Context, id string, from ...models.ListingStatus) error {
	query := `DELETE FROM listings WHERE id = $1`
	args := []any{id}
	if len(from) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statusStrings(from))
	}

	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (r *ListingRepository) ListByStatus(ctx context.Context, status models.ListingStatus) ([]models.ListingWithOwner, error) {
	const query = `
		SELECT l.id, l.user_id, l.model, l.price, l.currency, l.country, l.description,
		       l.specifications, l.vat_paid, l.photos, l.status, l.created_at, l.updated_at,
		       u.id, u.display_name, u.email, u.avatar_url
		FROM listings l
		JOIN users u ON u.id = l.user_id
		WHERE l.status = $1
		ORDER BY l.created_at DESC
	`

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.ListingWithOwner
	for rows.Next() {
		var (
			item      models.ListingWithOwner
			rawStatus string
		)
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Model,
			&item.Price,
			&item.Currency,
			&item.Country,
			&item.Description,
			&item.Specifications,
			&item.VATPaid,
			&item.Photos,
			&rawStatus,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.Owner.ID,
			&item.Owner.DisplayName,
			&item.Owner.Email,
			&item.Owner.AvatarURL,
		); err != nil {
			return nil, err
		}
		item.Status = models.ListingStatus(rawStatus)
		listings = append(listings, item)
	}
	return listings, rows.Err()
}

func (r *ListingRepository) ListByUser(ctx context.Context, userID string) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE user_id = $1 AND status != 'deleted'
		ORDER BY created_at DESC`

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectListings(rows)
}

// Search returns active listings matching filter, newest first.
func (r *ListingRepository) Search(ctx context.Context, filter ListingFilter) ([]models.Listing, error) {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(listingColumns).
		From("listings").
		Where(sq.Eq{"status": string(models.ListingStatusActive)}).
		OrderBy("created_at DESC")

	if filter.Country != "" {
		builder = builder.Where(sq.Eq{"country": filter.Country})
	}
	if filter.Model != "" {
		builder = builder.Where(sq.ILike{"model": "%" + filter.Model + "%"})
	}
	if filter.Currency != "" {
		builder = builder.Where(sq.Eq{"currency": filter.Currency})
	}
	if filter.MinPrice != nil {
		builder = builder.Where(sq.GtOrEq{"price": *filter.MinPrice})
	}
	if filter.MaxPrice != nil {
		builder = builder.Where(sq.LtOrEq{"price": *filter.MaxPrice})
	}
	if filter.VATPaid != nil {
		builder = builder.Where(sq.Eq{"vat_paid": *filter.VATPaid})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectListings(rows)
}

func collectListings(rows pgx.Rows) ([]models.Listing, error) {
	var listings []models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}

func scanListing(row pgx.Row) (models.Listing, error) {
	var (
		listing models.Listing
		status  string
	)
	if err := row.Scan(
		&listing.ID,
		&listing.UserID,
		&listing.Model,
		&listing.Price,
		&listing.Currency,
		&listing.Country,
		&listing.Description,
		&listing.Specifications,
		&listing.VATPaid,
		&listing.Photos,
		&status,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	); err != nil {
		return models.Listing{}, err
	}
	listing.Status = models.ListingStatus(status)
	return listing, nil
}

func statusStrings(statuses []models.ListingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
