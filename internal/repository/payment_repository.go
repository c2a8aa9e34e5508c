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
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("payment already recorded for session")
)

const uniqueViolation = "23505"

type PaymentRepository struct {
	db database.DB
}

func NewPaymentRepository(db database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment models.Payment) error {
	const query = `
		INSERT INTO payments (id, user_id, listing_id, amount, status, provider_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`

	_, err := database.Conn(ctx, r.db).Exec(ctx, query,
		payment.ID,
		payment.UserID,
		payment.ListingID,
		payment.Amount,
		payment.Status,
		payment.ProviderSessionID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicatePayment
		}
		return err
	}
	return nil
}

func (r *PaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (models.Payment, error) {
	const query = `
		SELECT id, user_id, listing_id, amount, status, provider_session_id, created_at
		FROM payments WHERE provider_session_id = $1
	`

	var payment models.Payment
	err := database.Conn(ctx, r.db).QueryRow(ctx, query, sessionID).Scan(
		&payment.ID,
		&payment.UserID,
		&payment.ListingID,
		&payment.Amount,
		&payment.Status,
		&payment.ProviderSessionID,
		&payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Payment{}, ErrPaymentNotFound
		}
		return models.Payment{}, err
	}
	return payment, nil
}
