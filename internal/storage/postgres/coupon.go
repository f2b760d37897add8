package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/pricing"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, value, min_items,
		valid_from, valid_until, max_uses, uses, max_discount
		FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1
		WHERE code = $1 AND (max_uses = 0 OR uses < max_uses)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_items,
		valid_from, valid_until, max_uses, max_discount)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_items = EXCLUDED.min_items,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses,
			max_discount = EXCLUDED.max_discount,
			active = TRUE`
)

var _ pricing.CouponRepository = (*CouponRepository)(nil)

// CouponRepository implements pricing.CouponRepository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns pricing.ErrInvalidCoupon when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*pricing.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// IncrementUses atomically increments the usage counter for the given coupon
// code. Returns pricing.ErrCouponUsageLimitReached when the coupon is used up
// or no longer exists.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementCouponUsesSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing uses for coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return pricing.ErrCouponUsageLimitReached
	}
	return nil
}

// Upsert inserts or replaces coupon rules. Usage counters are kept.
func (r *CouponRepository) Upsert(ctx context.Context, rules []pricing.Rule) error {
	batch := &pgx.Batch{}
	for _, c := range rules {
		batch.Queue(upsertCouponSQL,
			c.Code, string(c.Type), c.Value, c.MinItems,
			c.ValidFrom, c.ValidUntil, c.MaxUses, c.MaxDiscount,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(rules), err)
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (pricing.Rule, error) {
	var (
		rule         pricing.Rule
		discountType string
		value        decimal.Decimal
		minItems     int32
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		uses         int32
		maxDiscount  decimal.Decimal
	)
	err := row.Scan(
		&rule.Code, &discountType, &value, &minItems,
		&validFrom, &validUntil, &maxUses, &uses, &maxDiscount,
	)
	rule.Type = pricing.DiscountType(discountType)
	rule.Value = value
	rule.MinItems = int(minItems)
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	rule.MaxDiscount = maxDiscount
	return rule, err
}
