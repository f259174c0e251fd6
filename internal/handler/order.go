package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/distributor-api/internal/domain/auth"
	"github.com/xenking/distributor-api/internal/domain/order"
)

const (
	maxBodyBytes = 1 << 20
	dateLayout   = "2006-01-02"
)

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Request body is too large or unreadable")
		return
	}
	req, err := decodePlaceOrder(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = p.UserID
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writePlaceError(w, r, err)
		return
	}

	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeEnvelope(w, r, http.StatusOK, msgSuccess, func(e *jx.Encoder) {
		e.Int64(res.Order.ID)
	})
}

func (h *Handler) writePlaceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr *order.InsufficientStockError
		qtyErr   *order.InvalidQuantityError
	)
	switch {
	case errors.As(err, &stockErr):
		writeEnvelope(w, r, http.StatusBadRequest, msgUnavailable,
			func(e *jx.Encoder) { e.Int64(order.NoOrder) },
			func(e *jx.Encoder) { encodeShortages(e, stockErr.Shortages) },
		)
	case errors.Is(err, order.ErrUnavailable):
		writeEnvelope(w, r, http.StatusBadRequest, msgUnavailable,
			func(e *jx.Encoder) { e.Int64(order.NoOrder) },
		)
	case errors.Is(err, order.ErrEmptyLines):
		writeError(w, r, http.StatusBadRequest, "order_details must not be empty")
	case errors.As(err, &qtyErr):
		writeError(w, r, http.StatusUnprocessableEntity, qtyErr.Error())
	case errors.Is(err, order.ErrShopNotFound):
		writeError(w, r, http.StatusUnprocessableEntity, "Shop not found")
	case errors.Is(err, order.ErrIdempotencyInFlight):
		writeError(w, r, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
	default:
		zctx.From(r.Context()).Error("Place order", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgPlaceFailed)
	}
}

func encodeShortages(e *jx.Encoder, shortages []order.Shortage) {
	e.FieldStart("shortages")
	e.ArrStart()
	for _, s := range shortages {
		e.ObjStart()
		e.FieldStart("price_id")
		e.Int64(s.ListingID)
		e.FieldStart("requested")
		e.Int(s.Requested)
		e.FieldStart("remaining")
		e.Int(s.Remaining)
		e.FieldStart("available")
		e.Bool(!s.Missing)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// decodePlaceOrder parses {"shop_id":1,"order_details":[{"price_id":2,"quantity":3}]}.
func decodePlaceOrder(data []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	if len(data) == 0 {
		return req, errors.New("request body is required")
	}

	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "shop_id":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "shop_id")
			}
			req.ShopID = v
			return nil
		case "order_details":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Lines = append(req.Lines, line)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, errors.Wrap(err, "invalid request body")
	}
	if req.ShopID <= 0 {
		return req, errors.New("shop_id is required")
	}
	for _, l := range req.Lines {
		if l.ListingID <= 0 {
			return req, errors.New("price_id is required for every order detail")
		}
	}
	return req, nil
}

func decodeLine(d *jx.Decoder) (order.Line, error) {
	var l order.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "price_id":
			l.ListingID, err = d.Int64()
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return l, err
}

// ListOrders handles GET /api/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	req, err := parseListRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Viewer = p

	page, err := h.orders.ListOrders(r.Context(), req)
	if err != nil {
		if errors.Is(err, order.ErrInvalidFilter) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		zctx.From(r.Context()).Error("List orders", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgInternal)
		return
	}

	writeEnvelope(w, r, http.StatusOK, msgSuccess,
		func(e *jx.Encoder) {
			e.ArrStart()
			for _, s := range page.Orders {
				encodeSummary(e, s)
			}
			e.ArrEnd()
		},
		func(e *jx.Encoder) {
			e.FieldStart("total")
			e.Int64(page.Total)
			e.FieldStart("page")
			e.Int(page.Page)
			e.FieldStart("per_page")
			e.Int(page.PerPage)
			e.FieldStart("page_counts")
			e.Int(page.PageCount)
		},
	)
}

func parseListRequest(r *http.Request) (order.ListRequest, error) {
	q := r.URL.Query()
	var (
		req order.ListRequest
		err error
	)

	if req.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return req, err
	}
	if req.PerPage, err = intParam(q.Get("per_page"), "per_page"); err != nil {
		return req, err
	}
	if req.Filter.FromDate, err = dateParam(q.Get("from_date"), "from_date"); err != nil {
		return req, err
	}
	if req.Filter.ToDate, err = dateParam(q.Get("to_date"), "to_date"); err != nil {
		return req, err
	}
	if req.Filter.FromAmount, err = amountParam(q.Get("from_amount"), "from_amount"); err != nil {
		return req, err
	}
	if req.Filter.ToAmount, err = amountParam(q.Get("to_amount"), "to_amount"); err != nil {
		return req, err
	}

	req.Filter.Search = q.Get("search")
	req.Filter.Status = order.Status(q.Get("status"))
	req.Filter.SortBy = q.Get("sort")
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		req.Filter.Descending = true
	default:
		return req, errors.New("order must be asc or desc")
	}
	return req, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func dateParam(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, errors.Errorf("%s must be formatted as YYYY-MM-DD", name)
	}
	return t, nil
}

func amountParam(v, name string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, errors.Errorf("%s must be a number", name)
	}
	return &d, nil
}

func encodeSummary(e *jx.Encoder, s order.Summary) {
	e.ObjStart()
	e.FieldStart("order_id")
	e.Int64(s.ID)
	e.FieldStart("shop_name")
	e.Str(s.ShopName)
	e.FieldStart("shop_address")
	e.Str(s.ShopAddress)
	e.FieldStart("latitude")
	e.Float64(s.ShopLatitude)
	e.FieldStart("longitude")
	e.Float64(s.ShopLongitude)
	e.FieldStart("distributor")
	e.Str(s.PlacedBy)
	e.FieldStart("order_date")
	e.Str(s.PlacedAt.UTC().Format(time.RFC3339))
	e.FieldStart("status")
	e.Str(string(s.Status))
	e.FieldStart("total_amount")
	e.Raw([]byte(s.Total.StringFixed(2)))
	e.ObjEnd()
}

// GetOrder handles GET /api/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "order id must be a positive integer")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), p, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Order not found")
			return
		}
		zctx.From(r.Context()).Error("Get order", zap.Int64("order_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgInternal)
		return
	}

	writeEnvelope(w, r, http.StatusOK, msgSuccess, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("order_id")
	e.Int64(o.ID)
	e.FieldStart("shop_id")
	e.Int64(o.ShopID)
	e.FieldStart("user_id")
	e.Int64(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("total_amount")
	e.Raw([]byte(o.Total.StringFixed(2)))
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("order_details")
	e.ArrStart()
	for _, d := range o.Details {
		e.ObjStart()
		e.FieldStart("order_detail_id")
		e.Int64(d.ID)
		e.FieldStart("price_id")
		e.Int64(d.ListingID)
		e.FieldStart("quantity")
		e.Int(d.Quantity)
		e.FieldStart("price_at_order")
		e.Raw([]byte(d.PriceAtOrder.StringFixed(2)))
		e.FieldStart("discount_id")
		if d.DiscountID != nil {
			e.Int64(*d.DiscountID)
		} else {
			e.Null()
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
