package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/distributor-api/internal/domain/listing"
)

const (
	lockListingSQL = `SELECT price, remaining_quantity
		FROM product_prices
		WHERE price_id = $1 AND deleted_at IS NULL
		FOR UPDATE`

	reserveListingSQL = `UPDATE product_prices
		SET remaining_quantity = remaining_quantity - $2, updated_at = now()
		WHERE price_id = $1 AND deleted_at IS NULL AND remaining_quantity >= $2
		RETURNING price, remaining_quantity + $2`

	listingRemainingSQL = `SELECT remaining_quantity
		FROM product_prices
		WHERE price_id = $1 AND deleted_at IS NULL`

	getListingSQL = `SELECT price_id, product_id, price, price_type, package_quantity, remaining_quantity
		FROM product_prices
		WHERE price_id = $1 AND deleted_at IS NULL`

	createListingSQL = `INSERT INTO product_prices (product_id, price, price_type, package_quantity, remaining_quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING price_id`

	replaceListingSQL = `UPDATE product_prices
		SET product_id = $2, price = $3, price_type = $4, package_quantity = $5,
			remaining_quantity = $6, updated_at = now()
		WHERE price_id = $1 AND deleted_at IS NULL`
)

var (
	_ listing.Ledger     = (*LedgerRepository)(nil)
	_ listing.Repository = (*LedgerRepository)(nil)
)

// LedgerRepository implements the price ledger on the product_prices table.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Lock takes the row lock of a live listing. It must run inside a
// transaction started by TxManager, otherwise the lock is released as soon
// as the statement finishes.
func (r *LedgerRepository) Lock(ctx context.Context, id int64) (listing.Stock, error) {
	s := listing.Stock{ListingID: id}
	err := conn(ctx, r.pool).QueryRow(ctx, lockListingSQL, id).Scan(&s.Price, &s.Remaining)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, pgx.ErrNoRows):
		return listing.Stock{}, listing.ErrUnavailable
	case isLockTimeout(err):
		return listing.Stock{}, fmt.Errorf("locking listing %d: lock wait timed out: %w", id, err)
	default:
		return listing.Stock{}, fmt.Errorf("locking listing %d: %w", id, err)
	}
}

// Reserve decrements a live listing. The guard in the UPDATE keeps
// remaining_quantity non-negative even without a prior Lock.
func (r *LedgerRepository) Reserve(ctx context.Context, id int64, quantity int) (listing.Reservation, error) {
	q := conn(ctx, r.pool)
	res := listing.Reservation{ListingID: id, Quantity: quantity}

	err := q.QueryRow(ctx, reserveListingSQL, id, quantity).Scan(&res.Price, &res.RemainingBefore)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return listing.Reservation{}, fmt.Errorf("reserving listing %d: %w", id, err)
	}

	var remaining int
	if err := q.QueryRow(ctx, listingRemainingSQL, id).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return listing.Reservation{}, listing.ErrUnavailable
		}
		return listing.Reservation{}, fmt.Errorf("reading listing %d: %w", id, err)
	}
	return listing.Reservation{}, &listing.InsufficientError{
		ListingID: id,
		Requested: quantity,
		Remaining: remaining,
	}
}

// Get returns a live listing.
func (r *LedgerRepository) Get(ctx context.Context, id int64) (*listing.Listing, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getListingSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting listing %d: %w", id, err)
	}

	l, err := pgx.CollectExactlyOneRow(rows, scanListing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, listing.ErrUnavailable
		}
		return nil, fmt.Errorf("getting listing %d: %w", id, err)
	}
	return &l, nil
}

// Create inserts a listing and fills its ID.
func (r *LedgerRepository) Create(ctx context.Context, l *listing.Listing) error {
	err := conn(ctx, r.pool).QueryRow(ctx, createListingSQL,
		l.ProductID, l.Price, string(l.Type), l.PackageQuantity, l.Remaining,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("creating listing for product %d: %w", l.ProductID, err)
	}
	return nil
}

// Replace overwrites a live listing. The UPDATE waits for any reservation
// holding the row lock.
func (r *LedgerRepository) Replace(ctx context.Context, l *listing.Listing) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, replaceListingSQL,
		l.ID, l.ProductID, l.Price, string(l.Type), l.PackageQuantity, l.Remaining,
	)
	if err != nil {
		return fmt.Errorf("replacing listing %d: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return listing.ErrUnavailable
	}
	return nil
}

func scanListing(row pgx.CollectableRow) (listing.Listing, error) {
	var (
		l   listing.Listing
		typ string
	)
	if err := row.Scan(&l.ID, &l.ProductID, &l.Price, &typ, &l.PackageQuantity, &l.Remaining); err != nil {
		return listing.Listing{}, err
	}
	l.Type = listing.Type(typ)
	return l, nil
}
