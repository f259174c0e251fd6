package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/distributor-api/internal/domain/order"
)

const shopExistsSQL = `SELECT EXISTS (SELECT 1 FROM shops WHERE shop_id = $1 AND deleted_at IS NULL)`

var _ order.Shops = (*ShopRepository)(nil)

// ShopRepository reads the shops table.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository returns a ShopRepository that uses the given pool.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

// Exists reports whether a live shop with the given id exists.
func (r *ShopRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := conn(ctx, r.pool).QueryRow(ctx, shopExistsSQL, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking shop %d: %w", id, err)
	}
	return ok, nil
}
