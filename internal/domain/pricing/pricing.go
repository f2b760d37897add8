// Package pricing computes order summaries: line subtotal, coupon discount,
// shipping and the payable total.
package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the line subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the line subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountCheapestFree makes one unit of the cheapest line free.
	DiscountCheapestFree DiscountType = "cheapest_free"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown, inactive or
	// the order does not meet its minimum item count.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned outside the coupon validity window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has no uses left.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

// Rule describes a coupon and its eligibility constraints.
type Rule struct {
	Code        string
	Type        DiscountType
	Value       decimal.Decimal
	MinItems    int
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	MaxUses     int
	Uses        int
	MaxDiscount decimal.Decimal
}

// Line is a priced order line.
type Line struct {
	Price    decimal.Decimal
	Quantity int
}

// Summary is the priced breakdown of an order.
type Summary struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Total        decimal.Decimal `json:"total"`
}

// CouponRepository provides coupon lookups and usage accounting.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// IncrementUses counts one use. It returns ErrCouponUsageLimitReached
	// when the coupon has no uses left.
	IncrementUses(ctx context.Context, code string) error
}

// Calculator prices orders, optionally applying coupons.
type Calculator struct {
	coupons CouponRepository
	now     func() time.Time
}

// NewCalculator creates a Calculator. A nil repository disables coupons:
// every non-empty code is rejected with ErrInvalidCoupon.
func NewCalculator(coupons CouponRepository) *Calculator {
	return &Calculator{coupons: coupons, now: time.Now}
}

// Calculate returns the summary for lines plus shipping. When code is set the
// coupon is validated and applied to the line subtotal. Usage is not counted
// here; see Redeem.
func (c *Calculator) Calculate(ctx context.Context, lines []Line, shipping decimal.Decimal, code string) (Summary, error) {
	subtotal := Subtotal(lines)

	discount := decimal.Zero
	if code != "" {
		rule, err := c.lookup(ctx, code)
		if err != nil {
			return Summary{}, err
		}
		if discount, err = Discount(rule, lines); err != nil {
			return Summary{}, err
		}
		code = rule.Code
	}

	total := subtotal.Sub(discount).Add(shipping)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Summary{
		Subtotal:     subtotal.Round(2),
		Discount:     discount.Round(2),
		CouponCode:   code,
		ShippingCost: shipping.Round(2),
		Total:        total.Round(2),
	}, nil
}

// Redeem counts one use of a coupon applied by Calculate. It is called once
// the order is paid.
func (c *Calculator) Redeem(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	if c.coupons == nil {
		return ErrInvalidCoupon
	}
	if err := c.coupons.IncrementUses(ctx, code); err != nil {
		if errors.Is(err, ErrCouponUsageLimitReached) {
			return ErrCouponUsageLimitReached
		}
		return errors.Wrap(err, "increment coupon uses")
	}
	return nil
}

func (c *Calculator) lookup(ctx context.Context, code string) (*Rule, error) {
	if c.coupons == nil {
		return nil, ErrInvalidCoupon
	}
	rule, err := c.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := c.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrCouponExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrCouponUsageLimitReached
	}
	return rule, nil
}
