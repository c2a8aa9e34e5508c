package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"boatmarket/internal/database"
	"boatmarket/internal/models"
)

var ErrCustomerNotFound = errors.New("customer not found")

type CustomerRepository struct {
	db database.DB
}

func NewCustomerRepository(db database.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetByUserID(ctx context.Context, userID string) (models.Customer, error) {
	const query = `SELECT id, provider_customer_id FROM customers WHERE id = $1`
	return r.get(ctx, query, userID)
}

func (r *CustomerRepository) GetByProviderID(ctx context.Context, providerCustomerID string) (models.Customer, error) {
	const query = `SELECT id, provider_customer_id FROM customers WHERE provider_customer_id = $1`
	return r.get(ctx, query, providerCustomerID)
}

func (r *CustomerRepository) Upsert(ctx context.Context, customer models.Customer) error {
	const query = `
		INSERT INTO customers (id, provider_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (id)
		DO UPDATE SET provider_customer_id = EXCLUDED.provider_customer_id
	`
	_, err := database.Conn(ctx, r.db).Exec(ctx, query, customer.ID, customer.ProviderCustomerID)
	return err
}

func (r *CustomerRepository) get(ctx context.Context, query string, arg string) (models.Customer, error) {
	var customer models.Customer
	err := database.Conn(ctx, r.db).QueryRow(ctx, query, arg).Scan(&customer.ID, &customer.ProviderCustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Customer{}, ErrCustomerNotFound
		}
		return models.Customer{}, err
	}
	return customer, nil
}
