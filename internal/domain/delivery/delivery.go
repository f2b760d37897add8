// Package delivery sends purchased ebooks to customers as time-limited
// download links.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LinkTTL is how long a download link stays valid.
const LinkTTL = 24 * time.Hour

// Item is a digital line of a paid order.
type Item struct {
	ProductID string
	Name      string
}

// DeliveredItem is reported back for every ebook sent.
type DeliveredItem struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// Summary is the outcome of a successful delivery.
type Summary struct {
	Delivered int             `json:"delivered"`
	Items     []DeliveredItem `json:"items"`
}

// ObjectStore signs download URLs for stored ebook files.
type ObjectStore interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Message is a single outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	// Links is the number of download links in the body.
	Links int
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// InvalidItem names one undeliverable item.
type InvalidItem struct {
	ProductID string
	Reason    string
}

// InvalidItemsError lists every item that failed validation. Nothing is
// delivered when it is returned.
type InvalidItemsError struct {
	Items []InvalidItem
}

func (e *InvalidItemsError) Error() string {
	parts := make([]string, len(e.Items))
	for i, it := range e.Items {
		parts[i] = it.ProductID + " (" + it.Reason + ")"
	}
	return "invalid digital items: " + strings.Join(parts, ", ")
}

// Error reports a failure to sign links or send the delivery email.
type Error struct {
	OrderID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deliver order %s: %v", e.OrderID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
