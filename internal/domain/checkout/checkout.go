// Package checkout places orders against the payment gateway and fulfils them
// once payment settles.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/customer"
	"github.com/xenking/bookstore/internal/domain/delivery"
	"github.com/xenking/bookstore/internal/domain/pricing"
	"github.com/xenking/bookstore/internal/domain/shipment"
)

var (
	// ErrOrderDataNotFound is returned when a session is unknown or expired.
	// The client has to restart checkout.
	ErrOrderDataNotFound = errors.New("order data not found or expired")
	// ErrSessionCreation is returned when the gateway opened no payment session.
	ErrSessionCreation = errors.New("failed to create payment session")
	// ErrVerifyInProgress is returned when another verify holds the session.
	ErrVerifyInProgress = errors.New("verification already in progress")
	// ErrSessionExists is returned by OrderCache.Insert on a key collision.
	ErrSessionExists = errors.New("session already exists")
)

// ValidationError reports an invalid order field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Kind distinguishes shipped goods from ebooks.
type Kind string

const (
	KindPhysical Kind = "physical"
	KindDigital  Kind = "digital"
)

// State is the fulfilment state of an order.
type State string

const (
	StatePlaced                 State = "PLACED"
	StatePaidPendingFulfillment State = "PAID_PENDING_FULFILLMENT"
	StateFulfilled              State = "FULFILLED"
	StatePaidFulfillmentFailed  State = "PAID_FULFILLMENT_FAILED"
	StateNotPaid                State = "NOT_PAID"
)

// LineItem is an order line as requested by the client.
type LineItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Kind      Kind
}

// PhysicalItem is a line shipped by the carrier.
type PhysicalItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// DigitalItem is a line delivered by email.
type DigitalItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Progress records which fulfilment steps of a paid order completed, so a
// retried verify resumes where the previous one stopped.
type Progress struct {
	PaymentConfirmed  bool              `json:"payment_confirmed"`
	CouponRedeemed    bool              `json:"coupon_redeemed,omitempty"`
	DeliveryDone      bool              `json:"delivery_done"`
	Delivered         *delivery.Summary `json:"delivered,omitempty"`
	ShipmentCreated   bool              `json:"shipment_created"`
	CarrierOrderID    int64             `json:"carrier_order_id,omitempty"`
	CarrierShipmentID int64             `json:"carrier_shipment_id,omitempty"`
	ShipmentRecorded  bool              `json:"shipment_recorded"`
}

// PendingOrder is the order context held between placement and verify.
type PendingOrder struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Physical  []PhysicalItem    `json:"physical,omitempty"`
	Digital   []DigitalItem     `json:"digital,omitempty"`
	Customer  customer.Customer `json:"customer"`
	Summary   pricing.Summary   `json:"summary"`
	State     State             `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	Progress  Progress          `json:"progress"`
}

// Complete reports whether every step that applies to the order is done.
func (o *PendingOrder) Complete() bool {
	p := o.Progress
	if !p.PaymentConfirmed {
		return false
	}
	if o.Summary.CouponCode != "" && !p.CouponRedeemed {
		return false
	}
	if len(o.Digital) > 0 && !p.DeliveryDone {
		return false
	}
	if len(o.Physical) > 0 && !(p.ShipmentCreated && p.ShipmentRecorded) {
		return false
	}
	return true
}

// OrderCache holds pending orders until they are verified or expire.
type OrderCache interface {
	// Insert stores a new order and stamps CreatedAt. It returns
	// ErrSessionExists when the key is taken.
	Insert(ctx context.Context, o *PendingOrder) error
	// Get returns ErrOrderDataNotFound for unknown or expired sessions.
	Get(ctx context.Context, sessionID string) (*PendingOrder, error)
	// Save overwrites an existing order without extending its expiry.
	Save(ctx context.Context, o *PendingOrder) error
	Delete(ctx context.Context, sessionID string) error
	// Lock acquires the verify lock of a session. It returns
	// ErrVerifyInProgress when the lock is held.
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// Pricer prices order lines and counts coupon uses of paid orders.
type Pricer interface {
	Calculate(ctx context.Context, lines []pricing.Line, shipping decimal.Decimal, code string) (pricing.Summary, error)
	Redeem(ctx context.Context, code string) error
}

// Deliverer sends ebooks of a paid order.
type Deliverer interface {
	Deliver(ctx context.Context, c customer.Customer, items []delivery.Item, orderID string) (*delivery.Summary, error)
}

// ShipmentCreator creates carrier shipments.
type ShipmentCreator interface {
	CreateShipment(ctx context.Context, req shipment.CreateRequest) (*shipment.Created, error)
}

// RecordStore persists shipment records.
type RecordStore interface {
	Create(ctx context.Context, r *shipment.Record) error
}
