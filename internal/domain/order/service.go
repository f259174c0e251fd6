package order

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/distributor-api/internal/domain/discount"
	"github.com/xenking/distributor-api/internal/domain/listing"
)

// DiscountLookup resolves the active discount of a listing.
type DiscountLookup interface {
	ActiveFor(ctx context.Context, listingID int64) discount.Result
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	ShopID int64
	UserID int64
	Lines  []Line
	// IdempotencyKey is optional. Requests repeating a completed key return
	// the original order instead of placing a new one.
	IdempotencyKey string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Replayed bool
}

// Option configures a Service.
type Option func(*Service)

// WithEmptyOrders controls whether requests without lines are accepted.
// They are rejected with ErrEmptyLines by default.
func WithEmptyOrders(allow bool) Option {
	return func(s *Service) { s.allowEmpty = allow }
}

// WithIdempotency enables idempotency keys backed by store.
func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithPublisher announces every committed order through p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithPlaceTimeout bounds the whole placement transaction.
func WithPlaceTimeout(d time.Duration) Option {
	return func(s *Service) { s.placeTimeout = d }
}

// WithMaxPerPage caps the page size of order listings.
func WithMaxPerPage(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPerPage = n
		}
	}
}

// WithTelemetry sets the tracer and meter providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) { s.telemetry = newTelemetry(tp, mp) }
}

// Service places and queries orders.
type Service struct {
	tx        Transactor
	shops     Shops
	ledger    listing.Ledger
	discounts DiscountLookup
	orders    Repository

	idempotency  IdempotencyStore
	publisher    Publisher
	allowEmpty   bool
	placeTimeout time.Duration
	maxPerPage   int
	telemetry    *telemetry
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	tx Transactor,
	shops Shops,
	ledger listing.Ledger,
	discounts DiscountLookup,
	orders Repository,
	opts ...Option,
) *Service {
	s := &Service{
		tx:         tx,
		shops:      shops,
		ledger:     ledger,
		discounts:  discounts,
		orders:     orders,
		maxPerPage: defaultMaxPerPage,
	}
	for _, o := range opts {
		o(s)
	}
	if s.telemetry == nil {
		s.telemetry = newTelemetry(nil, nil)
	}
	return s
}

// PlaceOrder reserves stock for every line and records the order in a single
// transaction. Either every line is committed with its stock decrement, or
// nothing is. A rejection caused by stock returns an error matching
// ErrUnavailable; any other error is a hard failure.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	start := time.Now()
	ctx, span := s.telemetry.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(
			attribute.Int64("shop.id", req.ShopID),
			attribute.Int("order.lines", len(req.Lines)),
		),
	)
	defer func() {
		if rerr != nil && !errors.Is(rerr, ErrUnavailable) {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	lg := zctx.From(ctx).With(
		zap.Int64("shop_id", req.ShopID),
		zap.Int64("user_id", req.UserID),
	)

	if err := s.validate(req); err != nil {
		s.telemetry.recordPlacement(ctx, outcomeRejected, start, 0)
		return nil, err
	}

	key := s.idempotencyKey(req)
	if key != "" {
		placed, err := s.idempotency.Begin(ctx, key)
		switch {
		case errors.Is(err, ErrIdempotencyInFlight):
			s.telemetry.recordPlacement(ctx, outcomeRejected, start, 0)
			return nil, err
		case err != nil:
			// The store is an optional guard; placement proceeds without it.
			lg.Warn("Idempotency store unavailable", zap.Error(err))
			key = ""
		case placed != NoOrder:
			o, err := s.orders.Get(ctx, placed)
			if err != nil {
				return nil, errors.Wrap(err, "load replayed order")
			}
			s.telemetry.recordPlacement(ctx, outcomeReplayed, start, len(o.Details))
			return &PlaceOrderResult{Order: o, Replayed: true}, nil
		}
	}

	placeCtx := ctx
	if s.placeTimeout > 0 {
		var cancel context.CancelFunc
		placeCtx, cancel = context.WithTimeout(ctx, s.placeTimeout)
		defer cancel()
	}

	var o *Order
	err := s.tx.WithTx(placeCtx, func(ctx context.Context) error {
		var err error
		o, err = s.place(ctx, req)
		return err
	})
	if err != nil {
		if key != "" {
			if relErr := s.idempotency.Release(context.WithoutCancel(ctx), key); relErr != nil {
				lg.Warn("Release idempotency key", zap.Error(relErr))
			}
		}
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrShopNotFound) {
			lg.Info("Order rejected", zap.Error(err))
			s.telemetry.recordPlacement(ctx, outcomeRejected, start, 0)
			return nil, err
		}
		lg.Error("Order placement failed", zap.Error(err))
		s.telemetry.recordPlacement(ctx, outcomeFailed, start, 0)
		return nil, errors.Wrap(err, "place order")
	}

	span.SetAttributes(attribute.Int64("order.id", o.ID))
	s.telemetry.recordPlacement(ctx, outcomePlaced, start, len(o.Details))
	lg.Info("Order placed",
		zap.Int64("order_id", o.ID),
		zap.Int("lines", len(o.Details)),
		zap.Stringer("total", o.Total),
	)

	if key != "" {
		// The order is committed; record it even if the client went away.
		if err := s.idempotency.Complete(context.WithoutCancel(ctx), key, o.ID); err != nil {
			lg.Warn("Complete idempotency key", zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.OrderPlaced(ctx, o); err != nil {
			lg.Warn("Publish order placed", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}

	return &PlaceOrderResult{Order: o}, nil
}

func (s *Service) validate(req PlaceOrderRequest) error {
	if len(req.Lines) == 0 && !s.allowEmpty {
		return ErrEmptyLines
	}
	for _, l := range req.Lines {
		if l.Quantity <= 0 || l.Quantity > MaxQuantity {
			return &InvalidQuantityError{ListingID: l.ListingID, Quantity: l.Quantity}
		}
	}
	return nil
}

func (s *Service) idempotencyKey(req PlaceOrderRequest) string {
	if s.idempotency == nil || req.IdempotencyKey == "" {
		return ""
	}
	return fmt.Sprintf("%d:%s", req.UserID, req.IdempotencyKey)
}

// place runs inside the transaction carried by ctx.
func (s *Service) place(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	ok, err := s.shops.Exists(ctx, req.ShopID)
	if err != nil {
		return nil, errors.Wrap(err, "check shop")
	}
	if !ok {
		return nil, ErrShopNotFound
	}

	if err := s.lockAndCheck(ctx, req.Lines); err != nil {
		return nil, err
	}

	b := NewBuilder(req.ShopID, req.UserID)
	if err := s.orders.CreateHeader(ctx, b.Header()); err != nil {
		return nil, errors.Wrap(err, "create order header")
	}

	for _, line := range req.Lines {
		r, err := s.ledger.Reserve(ctx, line.ListingID, line.Quantity)
		if err != nil {
			var ie *listing.InsufficientError
			switch {
			case errors.As(err, &ie):
				return nil, &InsufficientStockError{Shortages: []Shortage{{
					ListingID: ie.ListingID,
					Requested: ie.Requested,
					Remaining: ie.Remaining,
				}}}
			case errors.Is(err, listing.ErrUnavailable):
				return nil, &InsufficientStockError{Shortages: []Shortage{{
					ListingID: line.ListingID,
					Requested: line.Quantity,
					Missing:   true,
				}}}
			}
			return nil, errors.Wrapf(err, "reserve listing %d", line.ListingID)
		}

		d := s.discounts.ActiveFor(ctx, line.ListingID)
		if d.State == discount.StateFailed {
			return nil, d.Err
		}

		detail := b.Detail(line, r, d)
		if err := s.orders.AddDetail(ctx, &detail); err != nil {
			return nil, errors.Wrapf(err, "add detail for listing %d", line.ListingID)
		}
		b.Append(detail)
	}

	total, err := s.orders.RecomputeTotal(ctx, b.Header().ID)
	if err != nil {
		return nil, errors.Wrap(err, "recompute total")
	}
	if !total.Equal(b.Subtotal()) {
		zctx.From(ctx).Warn("Persisted total differs from computed subtotal",
			zap.Int64("order_id", b.Header().ID),
			zap.Stringer("persisted", total),
			zap.Stringer("computed", b.Subtotal()),
		)
	}
	return b.Finish(total), nil
}

// addDemand sums quantities, saturating at math.MaxInt so that repeated
// lines for one listing can never wrap into a coverable amount.
func addDemand(total, quantity int) int {
	if quantity > math.MaxInt-total {
		return math.MaxInt
	}
	return total + quantity
}

// lockAndCheck locks every distinct listing of lines in ascending id order and
// verifies that the summed demand per listing is covered. All shortages are
// collected before failing.
func (s *Service) lockAndCheck(ctx context.Context, lines []Line) error {
	demand := make(map[int64]int, len(lines))
	for _, l := range lines {
		demand[l.ListingID] = addDemand(demand[l.ListingID], l.Quantity)
	}
	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var shortages []Shortage
	for _, id := range ids {
		stock, err := s.ledger.Lock(ctx, id)
		if err != nil {
			if errors.Is(err, listing.ErrUnavailable) {
				shortages = append(shortages, Shortage{ListingID: id, Requested: demand[id], Missing: true})
				continue
			}
			return errors.Wrapf(err, "lock listing %d", id)
		}
		if !stock.Covers(demand[id]) {
			shortages = append(shortages, Shortage{
				ListingID: id,
				Requested: demand[id],
				Remaining: stock.Remaining,
			})
		}
	}
	if len(shortages) > 0 {
		return &InsufficientStockError{Shortages: shortages}
	}
	return nil
}
