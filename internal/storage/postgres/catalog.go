package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/distributor-api/internal/domain/auth"
)

const (
	upsertRoleSQL = `
INSERT INTO roles (role_name) VALUES ($1)
ON CONFLICT (role_name) DO UPDATE SET deleted_at = NULL
RETURNING role_id`

	upsertUserSQL = `
INSERT INTO users (full_name, username, role_id) VALUES ($1, $2, $3)
ON CONFLICT (username) DO UPDATE SET full_name = EXCLUDED.full_name, role_id = EXCLUDED.role_id, deleted_at = NULL
RETURNING user_id`

	createShopSQL = `
INSERT INTO shops (shop_name, address, latitude, longitude) VALUES ($1, $2, $3, $4)
RETURNING shop_id`

	createProductSQL = `INSERT INTO products (product_name) VALUES ($1) RETURNING product_id`

	productIDByNameSQL = `
SELECT product_id FROM products WHERE product_name = $1 AND deleted_at IS NULL
ORDER BY product_id LIMIT 1`

	countProductsSQL = `SELECT count(*) FROM products WHERE deleted_at IS NULL`
)

// Shop is a retail location orders are placed for.
type Shop struct {
	ID        int64
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
}

// CatalogRepository maintains the reference data around price listings:
// roles, users, shops and products. It is used by the seeding and import
// tools; the order path only reads these tables.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// EnsureRole returns the id of role, creating it if needed.
func (r *CatalogRepository) EnsureRole(ctx context.Context, role auth.Role) (int64, error) {
	var id int64
	if err := conn(ctx, r.pool).QueryRow(ctx, upsertRoleSQL, string(role)).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting role %q: %w", role, err)
	}
	return id, nil
}

// EnsureUser creates or updates the user with the given username.
func (r *CatalogRepository) EnsureUser(ctx context.Context, username, fullName string, roleID int64) (int64, error) {
	var id int64
	if err := conn(ctx, r.pool).QueryRow(ctx, upsertUserSQL, fullName, username, roleID).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting user %q: %w", username, err)
	}
	return id, nil
}

// CreateShop inserts s and fills its ID.
func (r *CatalogRepository) CreateShop(ctx context.Context, s *Shop) error {
	err := conn(ctx, r.pool).QueryRow(ctx, createShopSQL, s.Name, s.Address, s.Latitude, s.Longitude).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("creating shop %q: %w", s.Name, err)
	}
	return nil
}

// EnsureProduct returns the id of the live product named name, creating it
// if none exists.
func (r *CatalogRepository) EnsureProduct(ctx context.Context, name string) (int64, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, productIDByNameSQL, name)
	if err != nil {
		return 0, fmt.Errorf("finding product %q: %w", name, err)
	}
	var id int64
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning product %q: %w", name, err)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("finding product %q: %w", name, err)
	}
	if id != 0 {
		return id, nil
	}

	if err := q.QueryRow(ctx, createProductSQL, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("creating product %q: %w", name, err)
	}
	return id, nil
}

// CountProducts returns the number of live products.
func (r *CatalogRepository) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	if err := conn(ctx, r.pool).QueryRow(ctx, countProductsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	return n, nil
}
