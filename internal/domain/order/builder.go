package order

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/distributor-api/internal/domain/discount"
	"github.com/xenking/distributor-api/internal/domain/listing"
)

// Builder assembles an order header and its detail rows during placement.
// Details are recorded in the order they were appended.
type Builder struct {
	order    *Order
	subtotal decimal.Decimal
}

// NewBuilder starts a Pending order for shopID placed by userID. The total
// stays zero until Finish.
func NewBuilder(shopID, userID int64) *Builder {
	return &Builder{
		order: &Order{
			ShopID: shopID,
			UserID: userID,
			Status: StatusPending,
			Total:  decimal.Zero,
		},
		subtotal: decimal.Zero,
	}
}

// Header returns the order under construction.
func (b *Builder) Header() *Order {
	return b.order
}

// Detail derives the detail row for line from its reservation and discount.
// The price always comes from the reservation, never from the request.
func (b *Builder) Detail(line Line, r listing.Reservation, d discount.Result) Detail {
	detail := Detail{
		OrderID:      b.order.ID,
		ListingID:    line.ListingID,
		Quantity:     line.Quantity,
		PriceAtOrder: r.Price,
	}
	if id, ok := d.ID(); ok {
		detail.DiscountID = &id
	}
	return detail
}

// Append records a persisted detail row.
func (b *Builder) Append(d Detail) {
	b.order.Details = append(b.order.Details, d)
	b.subtotal = b.subtotal.Add(d.Amount())
}

// Subtotal is the sum of appended detail amounts.
func (b *Builder) Subtotal() decimal.Decimal {
	return b.subtotal
}

// Finish sets the persisted total and returns the order.
func (b *Builder) Finish(total decimal.Decimal) *Order {
	b.order.Total = total
	return b.order
}
