// Package shipment holds carrier shipments of paid orders: the durable record
// store, the carrier port and the user-facing tracking and cancellation
// operations.
package shipment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/customer"
)

var (
	// ErrNotFound is returned when no shipment record matches.
	ErrNotFound = errors.New("shipment not found")
	// ErrDuplicate is returned when a record for the payment session exists.
	ErrDuplicate = errors.New("shipment already recorded")
	// ErrAlreadyCancelled is returned when cancelling a cancelled shipment.
	ErrAlreadyCancelled = errors.New("shipment already cancelled")
	// ErrNoCourier is returned when no courier serves a route.
	ErrNoCourier = errors.New("no courier available")
)

// Status is the lifecycle state of a shipment record.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusCancelled Status = "CANCELLED"
)

// Record maps a payment session to the carrier order created for it.
type Record struct {
	ID                int64
	UserID            string
	PaymentSessionID  string
	CarrierOrderID    int64
	CarrierShipmentID int64
	OrderSnapshot     json.RawMessage
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Repository persists shipment records.
type Repository interface {
	// Create stores a new record. It returns ErrDuplicate when a record for
	// the same payment session already exists.
	Create(ctx context.Context, r *Record) error
	GetByCarrierOrderID(ctx context.Context, carrierOrderID int64) (*Record, error)
	// ListByUser returns the user's records, newest first.
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error
}

// Item is a physical line handed to the carrier.
type Item struct {
	SKU          string
	Name         string
	Units        int
	SellingPrice decimal.Decimal
}

// CreateRequest describes a shipment for a paid order.
type CreateRequest struct {
	OrderID   string
	OrderDate time.Time
	Customer  customer.Customer
	Items     []Item
	SubTotal  decimal.Decimal
}

// Created is the carrier response to a successful CreateRequest.
type Created struct {
	CarrierOrderID    int64
	CarrierShipmentID int64
	Raw               json.RawMessage
}

// TrackingState is the normalised tracking outcome.
type TrackingState string

const (
	// TrackingPending means the carrier reported the parcel as not yet
	// picked up.
	TrackingPending TrackingState = "PENDING"
	// TrackingInProgress means the carrier returned tracking history.
	TrackingInProgress TrackingState = "IN_PROGRESS"
	// TrackingUnknown means the carrier returned neither.
	TrackingUnknown TrackingState = "UNKNOWN"
)

// Tracking is the tracking status of one carrier shipment.
type Tracking struct {
	ShipmentID int64
	State      TrackingState
	Message    string
	// History is the raw carrier activity list, set for TrackingInProgress.
	History json.RawMessage
}

// ServiceabilityQuery asks which couriers serve a route.
type ServiceabilityQuery struct {
	PickupPincode   string
	DeliveryPincode string
	// Weight is the parcel weight in kilograms.
	Weight float64
	COD    bool
}

// Courier is a courier option for a route.
type Courier struct {
	ID            int64
	Name          string
	Rate          decimal.Decimal
	EstimatedDays int
	ETD           string
}

// Carrier is the shipping provider port.
type Carrier interface {
	CreateShipment(ctx context.Context, req CreateRequest) (*Created, error)
	TrackShipment(ctx context.Context, shipmentID int64) (*Tracking, error)
	CancelShipment(ctx context.Context, carrierOrderID int64) error
	Serviceability(ctx context.Context, q ServiceabilityQuery) ([]Courier, error)
}

// AuthenticationError reports a failed carrier login. It is fatal for the
// operation that triggered it.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return "carrier authentication failed: " + e.Err.Error()
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
