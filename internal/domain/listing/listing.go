// Package listing defines the Price Ledger: sellable price/quantity rows of a
// product and the reservation contract used while placing orders.
package listing

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable is returned when a listing does not exist or is soft-deleted.
	ErrUnavailable = errors.New("listing unavailable")
	// ErrInsufficient is returned when a reservation asks for more than remains.
	ErrInsufficient = errors.New("insufficient stock")
)

// Type is the pricing mode of a listing.
type Type string

const (
	TypeSingleItem Type = "single_item"
	TypePackage    Type = "package"
)

// Valid reports whether t is a known listing type.
func (t Type) Valid() bool {
	return t == TypeSingleItem || t == TypePackage
}

// Listing is one sellable price/quantity row of a product.
type Listing struct {
	ID              int64
	ProductID       int64
	Price           decimal.Decimal
	Type            Type
	PackageQuantity int
	Remaining       int
}

// Stock is the state of a listing as observed under its row lock.
type Stock struct {
	ListingID int64
	Price     decimal.Decimal
	Remaining int
}

// Covers reports whether the locked stock can satisfy quantity units.
func (s Stock) Covers(quantity int) bool {
	return quantity <= s.Remaining
}

// Reservation is the result of decrementing a listing inside a transaction.
type Reservation struct {
	ListingID       int64
	Quantity        int
	RemainingBefore int
	Price           decimal.Decimal
}

// InsufficientError describes a single listing that cannot cover a request.
type InsufficientError struct {
	ListingID int64
	Requested int
	Remaining int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("listing %d: requested %d, remaining %d", e.ListingID, e.Requested, e.Remaining)
}

func (e *InsufficientError) Unwrap() error { return ErrInsufficient }

// Ledger reserves stock. Both methods must run inside the caller's
// transaction: Lock holds the row lock until commit or rollback, and Reserve
// is only visible to other transactions after commit.
type Ledger interface {
	// Lock takes the exclusive row lock on a live listing and returns its
	// current price and remaining quantity.
	Lock(ctx context.Context, id int64) (Stock, error)
	// Reserve decrements a live listing by quantity. It returns an
	// *InsufficientError when the remaining quantity is too small.
	Reserve(ctx context.Context, id int64, quantity int) (Reservation, error)
}

// Repository provides administrative access to listings.
type Repository interface {
	Get(ctx context.Context, id int64) (*Listing, error)
	Create(ctx context.Context, l *Listing) error
	Replace(ctx context.Context, l *Listing) error
}
