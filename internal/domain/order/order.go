package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NoOrder is the order id reported when placement was rejected.
const NoOrder int64 = 0

// Status is the lifecycle state of an order.
type Status string

// StatusPending is assigned to every newly placed order.
const StatusPending Status = "Pending"

// Line is one requested listing and quantity of an order request.
type Line struct {
	ListingID int64
	Quantity  int
}

// Order is a persisted order header with its detail rows.
type Order struct {
	ID        int64
	ShopID    int64
	UserID    int64
	Status    Status
	Total     decimal.Decimal
	CreatedAt time.Time
	Details   []Detail
}

// Detail is one order line with the price and discount captured at
// placement time.
type Detail struct {
	ID           int64
	OrderID      int64
	ListingID    int64
	Quantity     int
	PriceAtOrder decimal.Decimal
	DiscountID   *int64
}

// Amount returns PriceAtOrder × Quantity.
func (d Detail) Amount() decimal.Decimal {
	return d.PriceAtOrder.Mul(decimal.NewFromInt(int64(d.Quantity)))
}

// Summary is one row of the order listing.
type Summary struct {
	ID            int64
	ShopName      string
	ShopAddress   string
	ShopLatitude  float64
	ShopLongitude float64
	PlacedBy      string
	PlacedAt      time.Time
	Status        Status
	Total         decimal.Decimal
}

// Transactor runs fn inside a single database transaction. The transaction
// travels in the context passed to fn; returning an error rolls it back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Shops checks shop existence.
type Shops interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Repository defines persistence operations for orders.
type Repository interface {
	// CreateHeader inserts the order header and fills ID and CreatedAt.
	CreateHeader(ctx context.Context, o *Order) error
	// AddDetail inserts one detail row and fills its ID.
	AddDetail(ctx context.Context, d *Detail) error
	// RecomputeTotal sets the order total to the sum of its persisted detail
	// amounts and returns it.
	RecomputeTotal(ctx context.Context, orderID int64) (decimal.Decimal, error)
	// Get returns the order with its details, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Order, error)
	// List returns one page of order summaries and the total match count.
	List(ctx context.Context, q ListQuery) ([]Summary, int64, error)
}

// IdempotencyStore remembers which order a client-supplied key produced.
type IdempotencyStore interface {
	// Begin claims key. It returns the previously placed order id when the
	// key already completed, 0 when the claim succeeded, and
	// ErrIdempotencyInFlight when another request holds the key.
	Begin(ctx context.Context, key string) (int64, error)
	Complete(ctx context.Context, key string, orderID int64) error
	Release(ctx context.Context, key string) error
}

// Publisher announces committed orders.
type Publisher interface {
	OrderPlaced(ctx context.Context, o *Order) error
}
