package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/distributor-api/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (shop_id, user_id, status, total_amount)
		VALUES ($1, $2, $3, 0)
		RETURNING order_id, created_at`

	addDetailSQL = `INSERT INTO order_details (order_id, price_id, quantity, price_at_order, discount_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING order_detail_id`

	recomputeTotalSQL = `UPDATE orders
		SET total_amount = (
			SELECT COALESCE(SUM(price_at_order * quantity), 0)
			FROM order_details
			WHERE order_id = $1
		)
		WHERE order_id = $1
		RETURNING total_amount`

	getOrderSQL = `SELECT order_id, shop_id, user_id, status, total_amount, created_at
		FROM orders
		WHERE order_id = $1 AND deleted_at IS NULL`

	getOrderDetailsSQL = `SELECT order_detail_id, order_id, price_id, quantity, price_at_order, discount_id
		FROM order_details
		WHERE order_id = $1
		ORDER BY order_detail_id`

	listOrdersColumns = `o.order_id, s.shop_name, s.address,
		COALESCE(s.latitude, 0), COALESCE(s.longitude, 0),
		u.full_name, o.created_at, o.status, o.total_amount`

	listOrdersFrom = `FROM orders o
		JOIN shops s ON s.shop_id = o.shop_id AND s.deleted_at IS NULL
		JOIN users u ON u.user_id = o.user_id AND u.deleted_at IS NULL`
)

var listOrdersSortable = map[string]string{
	order.SortPlacedAt: "o.created_at",
	order.SortTotal:    "o.total_amount",
	order.SortStatus:   "o.status",
	order.SortShop:     "s.shop_name",
	order.SortPlacedBy: "u.full_name",
}

var listOrdersSearchColumns = []string{
	"o.order_id::text", "s.shop_name", "s.address", "u.full_name", "o.status",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateHeader inserts the order header with a zero total.
func (r *OrderRepository) CreateHeader(ctx context.Context, o *order.Order) error {
	err := conn(ctx, r.pool).QueryRow(ctx, createOrderSQL,
		o.ShopID, o.UserID, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating order for shop %d: %w", o.ShopID, err)
	}
	return nil
}

// AddDetail inserts one order detail row.
func (r *OrderRepository) AddDetail(ctx context.Context, d *order.Detail) error {
	err := conn(ctx, r.pool).QueryRow(ctx, addDetailSQL,
		d.OrderID, d.ListingID, d.Quantity, d.PriceAtOrder, d.DiscountID,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("adding detail to order %d: %w", d.OrderID, err)
	}
	return nil
}

// RecomputeTotal sets the order total from its persisted detail rows.
func (r *OrderRepository) RecomputeTotal(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := conn(ctx, r.pool).QueryRow(ctx, recomputeTotalSQL, orderID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("recomputing total of order %d: %w", orderID, err)
	}
	return total, nil
}

// Get returns an order with its details.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	rows, err = q.Query(ctx, getOrderDetailsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting details of order %d: %w", id, err)
	}
	o.Details, err = pgx.CollectRows(rows, scanDetail)
	if err != nil {
		return nil, fmt.Errorf("getting details of order %d: %w", id, err)
	}
	return &o, nil
}

// List returns one page of order summaries joined with shop and placing
// user, plus the number of matching orders.
func (r *OrderRepository) List(ctx context.Context, lq order.ListQuery) ([]order.Summary, int64, error) {
	pq, err := buildListOrders(lq)
	if err != nil {
		return nil, 0, err
	}
	q := conn(ctx, r.pool)

	countSQL, countArgs := pq.Count()
	var total int64
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}
	if total == 0 {
		return []order.Summary{}, 0, nil
	}

	pageSQL, pageArgs := pq.Select()
	rows, err := q.Query(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	return summaries, total, nil
}

func buildListOrders(lq order.ListQuery) (*PageQuery, error) {
	pq := NewPageQuery(listOrdersColumns, listOrdersFrom).Sortable(listOrdersSortable)
	pq.Where("o.deleted_at IS NULL")

	if lq.UserID != 0 {
		pq.Where("o.user_id = " + pq.Arg(lq.UserID))
	}
	if !lq.FromDate.IsZero() {
		pq.Where("o.created_at::date >= " + pq.Arg(lq.FromDate) + "::date")
	}
	if !lq.ToDate.IsZero() {
		pq.Where("o.created_at::date <= " + pq.Arg(lq.ToDate) + "::date")
	}
	if lq.FromAmount != nil {
		pq.Where("o.total_amount >= " + pq.Arg(*lq.FromAmount))
	}
	if lq.ToAmount != nil {
		pq.Where("o.total_amount <= " + pq.Arg(*lq.ToAmount))
	}
	if lq.Status != "" {
		pq.Where("o.status = " + pq.Arg(string(lq.Status)))
	}
	pq.Search(lq.Search, listOrdersSearchColumns...)

	if lq.SortBy != "" {
		if err := pq.SortBy(lq.SortBy, lq.Descending); err != nil {
			return nil, errors.Wrap(order.ErrInvalidFilter, err.Error())
		}
	} else {
		pq.OrderBy("o.created_at", true)
	}
	pq.OrderBy("o.order_id", true)
	pq.Paginate(lq.Page, lq.PerPage)
	return pq, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.ShopID, &o.UserID, &status, &o.Total, &o.CreatedAt); err != nil {
		return order.Order{}, err
	}
	o.Status = order.Status(status)
	return o, nil
}

func scanDetail(row pgx.CollectableRow) (order.Detail, error) {
	var d order.Detail
	err := row.Scan(&d.ID, &d.OrderID, &d.ListingID, &d.Quantity, &d.PriceAtOrder, &d.DiscountID)
	return d, err
}

func scanSummary(row pgx.CollectableRow) (order.Summary, error) {
	var (
		s      order.Summary
		status string
	)
	err := row.Scan(
		&s.ID, &s.ShopName, &s.ShopAddress, &s.ShopLatitude, &s.ShopLongitude,
		&s.PlacedBy, &s.PlacedAt, &status, &s.Total,
	)
	if err != nil {
		return order.Summary{}, err
	}
	s.Status = order.Status(status)
	return s, nil
}
