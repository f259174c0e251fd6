package order

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrUnavailable matches every rejection caused by stock: a listing that
	// cannot cover the requested quantity, or that does not exist.
	ErrUnavailable = errors.New("requested products are not available")
	// ErrEmptyLines is returned for an order request without lines.
	ErrEmptyLines = errors.New("order lines required")
	// ErrShopNotFound is returned when the target shop does not exist.
	ErrShopNotFound = errors.New("shop not found")
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrIdempotencyInFlight is returned while another request with the same
	// idempotency key is being processed.
	ErrIdempotencyInFlight = errors.New("order with this idempotency key is in progress")
	// ErrInvalidFilter is returned for malformed list queries.
	ErrInvalidFilter = errors.New("invalid filter")
)

// MaxQuantity is the largest quantity a single line may request; stock
// columns are 32-bit integers.
const MaxQuantity = math.MaxInt32

// InvalidQuantityError indicates a line whose quantity is not in
// [1, MaxQuantity].
type InvalidQuantityError struct {
	ListingID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for listing %d, got %d", MaxQuantity, e.ListingID, e.Quantity)
}

// Shortage describes one listing that blocked an order.
type Shortage struct {
	ListingID int64
	Requested int
	Remaining int
	// Missing is set when the listing does not exist or is soft-deleted.
	Missing bool
}

// InsufficientStockError lists every listing that blocked an order.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	var sb strings.Builder
	sb.WriteString("insufficient stock:")
	for i, s := range e.Shortages {
		if i > 0 {
			sb.WriteByte(',')
		}
		if s.Missing {
			fmt.Fprintf(&sb, " listing %d unavailable", s.ListingID)
			continue
		}
		fmt.Fprintf(&sb, " listing %d requested %d remaining %d", s.ListingID, s.Requested, s.Remaining)
	}
	return sb.String()
}

func (e *InsufficientStockError) Unwrap() error { return ErrUnavailable }
