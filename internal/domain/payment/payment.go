// Package payment defines the payment gateway port used by checkout.
package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/customer"
)

// StatusPaid is the gateway order status of a settled payment.
const StatusPaid = "PAID"

// CartItem is an order line forwarded to the gateway for display.
type CartItem struct {
	ID       string
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// SessionRequest asks the gateway to open a payment session.
type SessionRequest struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Customer  customer.Customer
	ReturnURL string
	Items     []CartItem
}

// Session is an opened payment session.
type Session struct {
	GatewayOrderID string
	// PaymentSessionID is the token the client uses to complete payment.
	PaymentSessionID string
}

// OrderStatus is the gateway view of an order.
type OrderStatus struct {
	OrderID string
	Status  string
	Amount  decimal.Decimal
	Raw     json.RawMessage
}

// Paid reports whether the order is settled.
func (s OrderStatus) Paid() bool {
	return s.Status == StatusPaid
}

// Gateway is the payment provider port.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	FetchOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
}

// Error is a non-success gateway response.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("payment gateway: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payment gateway: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// UpstreamMessage returns the message reported by the gateway.
func (e *Error) UpstreamMessage() string {
	return e.Message
}
