// Package discount resolves which promotion, if any, applies to a listing at
// the moment an order line is committed.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no active discount is associated with a listing.
var ErrNotFound = errors.New("discount not found")

// Type enumerates the supported discount strategies.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Discount is a promotion that can be associated with listings.
type Discount struct {
	ID          int64
	Name        string
	Type        Type
	Value       decimal.Decimal
	StartDate   time.Time
	EndDate     time.Time
	MinQuantity *int
	MaxQuantity *int
	Conditions  string
}

// ActiveOn reports whether day falls inside the discount window. Only the
// calendar date of day is considered.
func (d Discount) ActiveOn(day time.Time) bool {
	y, m, dd := day.Date()
	date := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	return !date.Before(truncate(d.StartDate)) && !date.After(truncate(d.EndDate))
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Finder looks up the active discount of a listing.
type Finder interface {
	// FindActive returns the id of the discount associated with listingID
	// that is active at the given time. It returns ErrNotFound on a miss.
	FindActive(ctx context.Context, listingID int64, at time.Time) (int64, error)
}

// Repository persists discounts and their listing associations.
type Repository interface {
	Finder
	Create(ctx context.Context, d *Discount) error
	Attach(ctx context.Context, discountID, listingID int64) error
}
