package models

// Product mirrors a payment-provider product. Listing checkouts are priced
// with one of its prices.
type Product struct {
	ID          string
	Active      bool
	Name        string
	Description *string
	Image       *string
	Metadata    map[string]string
	Prices      []Price
}

type Price struct {
	ID              string
	ProductID       string
	Active          bool
	Currency        string
	Type            string
	UnitAmount      *int64
	Interval        *string
	IntervalCount   *int64
	TrialPeriodDays *int64
	Description     *string
	Metadata        map[string]string
}
