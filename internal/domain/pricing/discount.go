package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Subtotal returns the sum of price * quantity over lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Discount computes the coupon discount for lines. The result is never
// negative, never exceeds the subtotal and honours Rule.MaxDiscount when set.
func Discount(rule *Rule, lines []Line) (decimal.Decimal, error) {
	units := 0
	for _, l := range lines {
		units += l.Quantity
	}
	if rule.MinItems > 0 && units < rule.MinItems {
		return decimal.Zero, ErrInvalidCoupon
	}

	subtotal := Subtotal(lines)

	var amount decimal.Decimal
	switch rule.Type {
	case DiscountPercentage:
		amount = subtotal.Mul(rule.Value).Div(hundred)
	case DiscountFixed:
		amount = rule.Value
	case DiscountCheapestFree:
		amount = cheapest(lines)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", rule.Type)
	}

	if rule.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, rule.MaxDiscount)
	}
	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2), nil
}

func cheapest(lines []Line) decimal.Decimal {
	if len(lines) == 0 {
		return decimal.Zero
	}
	low := lines[0].Price
	for _, l := range lines[1:] {
		if l.Price.LessThan(low) {
			low = l.Price
		}
	}
	return low
}
