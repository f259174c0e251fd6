package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/distributor-api/internal/domain/discount"
)

const (
	findActiveDiscountSQL = `SELECT d.discount_id
		FROM product_discounts pd
		JOIN discounts d ON d.discount_id = pd.discount_id
		WHERE pd.price_id = $1
			AND pd.deleted_at IS NULL
			AND d.deleted_at IS NULL
			AND d.start_date <= $2::date
			AND d.end_date >= $2::date
		ORDER BY d.created_at DESC, d.discount_id DESC
		LIMIT 1`

	createDiscountSQL = `INSERT INTO discounts
		(discount_name, discount_type, value, start_date, end_date, min_quantity, max_quantity, conditions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING discount_id`

	attachDiscountSQL = `INSERT INTO product_discounts (discount_id, price_id) VALUES ($1, $2)`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindActive returns the newest discount attached to listingID whose date
// window contains at. It takes no locks.
func (r *DiscountRepository) FindActive(ctx context.Context, listingID int64, at time.Time) (int64, error) {
	var id int64
	err := conn(ctx, r.pool).QueryRow(ctx, findActiveDiscountSQL, listingID, at).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, discount.ErrNotFound
		}
		return 0, fmt.Errorf("finding discount for listing %d: %w", listingID, err)
	}
	return id, nil
}

// Create inserts a discount and fills its ID.
func (r *DiscountRepository) Create(ctx context.Context, d *discount.Discount) error {
	err := conn(ctx, r.pool).QueryRow(ctx, createDiscountSQL,
		d.Name, string(d.Type), d.Value, d.StartDate, d.EndDate, d.MinQuantity, d.MaxQuantity, d.Conditions,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("creating discount %q: %w", d.Name, err)
	}
	return nil
}

// Attach associates a discount with a listing.
func (r *DiscountRepository) Attach(ctx context.Context, discountID, listingID int64) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, attachDiscountSQL, discountID, listingID); err != nil {
		return fmt.Errorf("attaching discount %d to listing %d: %w", discountID, listingID, err)
	}
	return nil
}
