package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/distributor-api/internal/domain/order"
)

func TestBuildListOrders_Defaults(t *testing.T) {
	pq, err := buildListOrders(order.ListQuery{Page: 1, PerPage: 20})
	require.NoError(t, err)

	sql, args := pq.Select()
	assert.True(t, strings.HasSuffix(sql, "WHERE o.deleted_at IS NULL ORDER BY o.created_at DESC, o.order_id DESC LIMIT $1 OFFSET $2"), sql)
	assert.Equal(t, []any{20, 0}, args)
}

func TestBuildListOrders_AllFilters(t *testing.T) {
	from := decimal.RequireFromString("10.50")
	to := decimal.RequireFromString("99")
	day := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	pq, err := buildListOrders(order.ListQuery{
		Filter: order.Filter{
			Search:     "Main St",
			FromDate:   day,
			ToDate:     day,
			FromAmount: &from,
			ToAmount:   &to,
			Status:     order.StatusPending,
			SortBy:     order.SortTotal,
		},
		UserID:  5,
		Page:    2,
		PerPage: 10,
	})
	require.NoError(t, err)

	sql, args := pq.Select()
	for _, want := range []string{
		"o.user_id = $1",
		"o.created_at::date >= $2::date",
		"o.created_at::date <= $3::date",
		"o.total_amount >= $4",
		"o.total_amount <= $5",
		"o.status = $6",
		"o.order_id::text ILIKE $7 OR s.shop_name ILIKE $7",
		"ORDER BY o.total_amount ASC, o.order_id DESC LIMIT $8 OFFSET $9",
	} {
		assert.Contains(t, sql, want)
	}
	assert.NotContains(t, sql, "Main St", "search term must be bound, not spliced")
	assert.Equal(t, []any{int64(5), day, day, from, to, "Pending", "%Main St%", 10, 10}, args)
}

func TestBuildListOrders_UnknownSort(t *testing.T) {
	_, err := buildListOrders(order.ListQuery{Filter: order.Filter{SortBy: "nope"}})
	require.ErrorIs(t, err, order.ErrInvalidFilter)
}
