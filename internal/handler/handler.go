// Package handler exposes checkout and shipment operations over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bookstore/internal/domain/checkout"
	"github.com/xenking/bookstore/internal/domain/shipment"
)

// Checkout is the order placement and verification service.
type Checkout interface {
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderRequest) (*checkout.PlaceOrderResult, error)
	Verify(ctx context.Context, sessionID string) (*checkout.VerifyResult, error)
}

// Shipments is the user-facing shipment service.
type Shipments interface {
	ListByUser(ctx context.Context, userID string) ([]shipment.Record, error)
	Cancel(ctx context.Context, carrierOrderID int64) (*shipment.Record, error)
	Track(ctx context.Context, userID string) ([]shipment.TrackedShipment, error)
	Quote(ctx context.Context, q shipment.ServiceabilityQuery) ([]shipment.Courier, error)
	CheckPincode(ctx context.Context, pincode string) (bool, error)
	Cheapest(ctx context.Context, q shipment.ServiceabilityQuery) (*shipment.Courier, error)
}

var (
	_ Checkout  = (*checkout.Service)(nil)
	_ Shipments = (*shipment.Service)(nil)
)

// Handler serves the /api/v1 routes.
type Handler struct {
	checkout  Checkout
	shipments Shipments
}

// NewHandler creates a Handler.
func NewHandler(c Checkout, s Shipments) *Handler {
	return &Handler{checkout: c, shipments: s}
}

// Mount registers the API routes on r under /api/v1.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orderPlace", h.PlaceOrder)
		r.Post("/verify", h.Verify)
		r.Post("/cancelOrder", h.CancelOrder)
		r.Get("/getTrackingDetails/{user_id}", h.TrackingDetails)
		r.Get("/getUserOrders", h.UserOrders)
		r.Post("/calculate-shipping", h.CalculateShipping)
		r.Post("/verify-pincode", h.VerifyPincode)
		r.Post("/cheapest-shipping", h.CheapestShipping)
	})
}

// Routes returns a router serving only the API routes.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, false, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, false, "method not allowed")
	})
	h.Mount(r)
	return r
}
