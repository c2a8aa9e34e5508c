package models

import "time"

type Payment struct {
	ID                string
	UserID            string
	ListingID         *string
	Amount            float64
	Status            string
	ProviderSessionID string
	CreatedAt         time.Time
}

// Customer links a user to the payment provider's customer record.
type Customer struct {
	ID                 string
	ProviderCustomerID string
}
