package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/distributor-api/internal/domain/discount"
	"github.com/xenking/distributor-api/internal/domain/listing"
)

func TestBuilder_Header(t *testing.T) {
	b := NewBuilder(3, 9)

	o := b.Header()
	assert.Equal(t, int64(3), o.ShopID)
	assert.Equal(t, int64(9), o.UserID)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, o.Total.IsZero())
	assert.Empty(t, o.Details)
}

func TestBuilder_DetailsAndSubtotal(t *testing.T) {
	b := NewBuilder(1, 1)
	b.Header().ID = 100

	d1 := b.Detail(
		Line{ListingID: 20, Quantity: 2},
		listing.Reservation{ListingID: 20, Quantity: 2, Price: decimal.RequireFromString("12.50"), RemainingBefore: 10},
		discount.Result{State: discount.StatePresent, DiscountID: 5},
	)
	b.Append(d1)

	d2 := b.Detail(
		Line{ListingID: 10, Quantity: 3},
		listing.Reservation{ListingID: 10, Quantity: 3, Price: decimal.RequireFromString("1.10"), RemainingBefore: 3},
		discount.Result{State: discount.StateAbsent},
	)
	b.Append(d2)

	o := b.Header()
	require.Len(t, o.Details, 2)
	assert.Equal(t, int64(20), o.Details[0].ListingID, "submitted order is preserved")
	assert.Equal(t, int64(10), o.Details[1].ListingID)
	assert.Equal(t, int64(100), o.Details[0].OrderID)

	require.NotNil(t, o.Details[0].DiscountID)
	assert.Equal(t, int64(5), *o.Details[0].DiscountID)
	assert.Nil(t, o.Details[1].DiscountID)

	assert.True(t, decimal.RequireFromString("28.30").Equal(b.Subtotal()), b.Subtotal().String())
}

func TestBuilder_EmptyOrder(t *testing.T) {
	b := NewBuilder(1, 2)

	o := b.Finish(decimal.Zero)
	assert.Empty(t, o.Details)
	assert.True(t, o.Total.IsZero())
	assert.True(t, b.Subtotal().IsZero())
}

func TestBuilder_FailedDiscountHasNoID(t *testing.T) {
	b := NewBuilder(1, 2)

	d := b.Detail(
		Line{ListingID: 1, Quantity: 1},
		listing.Reservation{Price: decimal.NewFromInt(4)},
		discount.Result{State: discount.StateFailed, DiscountID: 99},
	)
	assert.Nil(t, d.DiscountID)
}
