package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/distributor-api/internal/domain/auth"
)

const (
	defaultPerPage    = 20
	defaultMaxPerPage = 100
)

// Sort keys accepted by ListOrders.
const (
	SortPlacedAt = "order_date"
	SortTotal    = "total"
	SortStatus   = "status"
	SortShop     = "shop_name"
	SortPlacedBy = "distributor"
)

var sortKeys = map[string]struct{}{
	SortPlacedAt: {},
	SortTotal:    {},
	SortStatus:   {},
	SortShop:     {},
	SortPlacedBy: {},
}

// Filter narrows an order listing. Zero values disable a criterion; date and
// amount bounds apply independently.
type Filter struct {
	// Search matches order id, shop name, shop address, placing user's name
	// and status, case-insensitively.
	Search     string
	FromDate   time.Time
	ToDate     time.Time
	FromAmount *decimal.Decimal
	ToAmount   *decimal.Decimal
	Status     Status
	// SortBy is one of the Sort* keys. Empty sorts newest first.
	SortBy     string
	Descending bool
}

// ListRequest is an order listing request made by Viewer.
type ListRequest struct {
	Viewer  auth.Principal
	Filter  Filter
	Page    int
	PerPage int
}

// ListQuery is the storage-level form of a listing request.
type ListQuery struct {
	Filter
	// UserID restricts results to orders placed by this user when non-zero.
	UserID  int64
	Page    int
	PerPage int
}

// Page is one page of order summaries.
type Page struct {
	Orders    []Summary
	Total     int64
	Page      int
	PerPage   int
	PageCount int
}

// ListOrders returns the orders visible to the viewer that match the filter,
// newest first unless another sort key is given.
func (s *Service) ListOrders(ctx context.Context, req ListRequest) (*Page, error) {
	ctx, span := s.telemetry.tracer.Start(ctx, "order.ListOrders",
		trace.WithAttributes(attribute.String("viewer.role", string(req.Viewer.Role))),
	)
	defer span.End()

	q, err := s.listQuery(req)
	if err != nil {
		return nil, err
	}

	orders, total, err := s.orders.List(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	pageCount := 0
	if total > 0 {
		pageCount = int((total + int64(q.PerPage) - 1) / int64(q.PerPage))
	}
	return &Page{
		Orders:    orders,
		Total:     total,
		Page:      q.Page,
		PerPage:   q.PerPage,
		PageCount: pageCount,
	}, nil
}

func (s *Service) listQuery(req ListRequest) (ListQuery, error) {
	f := req.Filter
	if req.Page < 0 || req.PerPage < 0 {
		return ListQuery{}, errors.Wrap(ErrInvalidFilter, "page and per_page must not be negative")
	}
	if !f.FromDate.IsZero() && !f.ToDate.IsZero() && f.FromDate.After(f.ToDate) {
		return ListQuery{}, errors.Wrap(ErrInvalidFilter, "from_date is after to_date")
	}
	if f.FromAmount != nil && f.ToAmount != nil && f.FromAmount.GreaterThan(*f.ToAmount) {
		return ListQuery{}, errors.Wrap(ErrInvalidFilter, "from_amount is greater than to_amount")
	}
	if f.SortBy != "" {
		if _, ok := sortKeys[f.SortBy]; !ok {
			return ListQuery{}, errors.Wrapf(ErrInvalidFilter, "unknown sort key %q", f.SortBy)
		}
	}

	q := ListQuery{Filter: f, Page: req.Page, PerPage: req.PerPage}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > s.maxPerPage {
		q.PerPage = s.maxPerPage
	}
	if req.Viewer.Role.SeesOnlyOwnOrders() {
		q.UserID = req.Viewer.UserID
	}
	return q, nil
}

// GetOrder returns an order with its details if the viewer may see it.
func (s *Service) GetOrder(ctx context.Context, viewer auth.Principal, id int64) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer.Role.SeesOnlyOwnOrders() && o.UserID != viewer.UserID {
		return nil, ErrNotFound
	}
	return o, nil
}
