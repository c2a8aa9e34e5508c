package models

import "time"

type ListingStatus string

const (
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusActive   ListingStatus = "active"
	ListingStatusInactive ListingStatus = "inactive"
	ListingStatusDeleted  ListingStatus = "deleted"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusPending, ListingStatusActive, ListingStatusInactive, ListingStatusDeleted:
		return true
	}
	return false
}

// Listing is a boat offered for sale. Photos holds public URLs of images in
// the listing's permanent namespace.
type Listing struct {
	ID             string
	UserID         string
	Model          string
	Price          float64
	Currency       string
	Country        string
	Description    string
	Specifications []string
	VATPaid        bool
	Photos         []string
	Status         ListingStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ListingOwner struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   *string
}

type ListingWithOwner struct {
	Listing
	Owner ListingOwner
}

// ListingDraft carries user-entered listing fields before payment. It has no
// row of its own.
type ListingDraft struct {
	Model          string
	Price          float64
	Currency       string
	Country        string
	Description    string
	Specifications []string
	VATPaid        bool
}
