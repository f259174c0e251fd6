// Package events publishes order lifecycle events to Kafka.
package events

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/distributor-api/internal/domain/order"
)

// TypeOrderPlaced is the event type emitted after an order commits.
const TypeOrderPlaced = "order.placed"

// EncodeOrderPlaced renders the order.placed payload for o.
func EncodeOrderPlaced(eventID uuid.UUID, at time.Time, o *order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event_id", func(e *jx.Encoder) { e.Str(eventID.String()) })
		e.Field("type", func(e *jx.Encoder) { e.Str(TypeOrderPlaced) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("shop_id", func(e *jx.Encoder) { e.Int64(o.ShopID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("details", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, d := range o.Details {
					e.Obj(func(e *jx.Encoder) {
						e.Field("price_id", func(e *jx.Encoder) { e.Int64(d.ListingID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(d.Quantity) })
						e.Field("price_at_order", func(e *jx.Encoder) { e.Str(d.PriceAtOrder.StringFixed(2)) })
						e.Field("discount_id", func(e *jx.Encoder) {
							if d.DiscountID == nil {
								e.Null()
								return
							}
							e.Int64(*d.DiscountID)
						})
					})
				}
			})
		})
	})
	return e.Bytes()
}
