// Package handler exposes the order API over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/distributor-api/internal/domain/auth"
	"github.com/xenking/distributor-api/internal/domain/order"
)

// OrderService is the order use-case surface the handlers call.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	ListOrders(ctx context.Context, req order.ListRequest) (*order.Page, error)
	GetOrder(ctx context.Context, viewer auth.Principal, id int64) (*order.Order, error)
}

// Handler serves the order endpoints.
type Handler struct {
	orders   OrderService
	verifier auth.Verifier
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders OrderService, verifier auth.Verifier) *Handler {
	return &Handler{
		orders:   orders,
		verifier: verifier,
	}
}

// Routes returns the authenticated API router, to be mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.Authenticate)

	r.Post("/orders", h.PlaceOrder)
	r.Get("/orders", h.ListOrders)
	r.Get("/orders/{orderID}", h.GetOrder)
	return r
}
