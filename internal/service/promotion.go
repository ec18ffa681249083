package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/realtime"
	"github.com/Skotchmaster/restaurant/internal/repo"
	"github.com/Skotchmaster/restaurant/internal/transport"
	"github.com/Skotchmaster/restaurant/pkg/logging"
)

var hundred = decimal.NewFromInt(100)

// Ledger validates coupon codes and moves their usage counters. Eligibility
// checks and the counter increment run as one locked unit in the repo.
type Ledger struct {
	Repo      *repo.GormRepo
	Publisher realtime.Publisher
	Timeouts  Timeouts
	Now       func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Discount is the amount p takes off amount, in minor units, never more than
// amount.
func Discount(p *models.Promotion, amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	total := decimal.NewFromInt(amount)

	var d decimal.Decimal
	switch p.DiscountType {
	case models.DiscountPercentage:
		d = total.Mul(p.DiscountValue).Div(hundred)
	case models.DiscountFixed:
		d = p.DiscountValue
	default:
		return 0
	}

	d = d.Floor()
	if d.IsNegative() {
		return 0
	}
	if d.GreaterThan(total) {
		return amount
	}
	return d.IntPart()
}

func (l *Ledger) check(p *models.Promotion, amount, priorUses int64) (int64, error) {
	now := l.now()
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return 0, fmt.Errorf("%w: %s starts at %s", ErrPromotionExpired, p.Code, p.StartsAt.Format(time.RFC3339))
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return 0, fmt.Errorf("%w: %s ended at %s", ErrPromotionExpired, p.Code, p.EndsAt.Format(time.RFC3339))
	}
	if amount < p.MinOrderAmount {
		return 0, fmt.Errorf("%w: %s needs at least %d", ErrPromotionNotEligible, p.Code, p.MinOrderAmount)
	}
	if p.MaxUsageCount != nil && p.CurrentUsageCount >= *p.MaxUsageCount {
		return 0, fmt.Errorf("%w: %s", ErrQuotaExhausted, p.Code)
	}
	if p.MaxUsagePerUser != nil && priorUses >= int64(*p.MaxUsagePerUser) {
		return 0, fmt.Errorf("%w: %s", ErrPerUserLimitExceeded, p.Code)
	}
	return Discount(p, amount), nil
}

// Quote runs every redemption check without consuming quota.
func (l *Ledger) Quote(ctx context.Context, code string, amount int64, who identity.Identity) (*transport.Quote, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code required", ErrValidation)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: amount must be >= 0", ErrValidation)
	}

	dctx, cancel := l.Timeouts.db(ctx)
	defer cancel()

	p, err := l.Repo.GetPromotionByCode(dctx, code)
	if repo.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrPromotionNotFound, code)
	}
	if err != nil {
		return nil, err
	}

	var prior int64
	if !who.IsZero() {
		if prior, err = l.Repo.CountUsages(dctx, p.ID, who.Key()); err != nil {
			return nil, err
		}
	}

	discount, err := l.check(p, amount, prior)
	if err != nil {
		return nil, err
	}
	return &transport.Quote{Code: p.Code, Amount: amount, Discount: discount, Total: amount - discount}, nil
}

// Redeem consumes one slot of code for who and returns the usage record
// holding the discount. Callers must Release the usage if the order that
// was meant to hold it is never created.
func (l *Ledger) Redeem(ctx context.Context, code string, amount int64, who identity.Identity) (*models.PromotionUsage, error) {
	log := logging.FromContext(ctx).With("svc", "promotion.redeem")

	code = normalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code required", ErrValidation)
	}
	if err := who.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	dctx, cancel := l.Timeouts.db(ctx)
	defer cancel()

	usage, promo, err := l.Repo.Redeem(dctx, code, who.Key(), func(p *models.Promotion, prior int64) (int64, error) {
		return l.check(p, amount, prior)
	})
	switch {
	case err == nil:
	case repo.IsNotFound(err):
		return nil, fmt.Errorf("%w: %s", ErrPromotionNotFound, code)
	case errors.Is(err, repo.ErrQuotaFull):
		return nil, fmt.Errorf("%w: %s", ErrQuotaExhausted, code)
	default:
		return nil, err
	}

	log.Info("promotion_redeemed", "code", promo.Code, "usage_id", usage.ID, "count", promo.CurrentUsageCount)
	if promo.MaxUsageCount != nil && promo.CurrentUsageCount >= *promo.MaxUsageCount {
		publish(ctx, l.Publisher, l.Timeouts, realtime.PromotionQuotaExhausted{Code: promo.Code})
	}
	return usage, nil
}

// Release gives a usage's slot back. Releasing twice is a no-op.
func (l *Ledger) Release(ctx context.Context, usageID uuid.UUID) error {
	log := logging.FromContext(ctx).With("svc", "promotion.release")

	dctx, cancel := l.Timeouts.db(ctx)
	defer cancel()

	promo, err := l.Repo.Release(dctx, usageID)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrAlreadyReleased):
		return nil
	case repo.IsNotFound(err):
		return fmt.Errorf("%w: usage %s", ErrNotFound, usageID)
	default:
		return err
	}

	log.Info("promotion_released", "code", promo.Code, "usage_id", usageID, "count", promo.CurrentUsageCount)
	ev := realtime.PromotionQuotaReleased{Code: promo.Code}
	if promo.MaxUsageCount != nil {
		remaining := max(*promo.MaxUsageCount-promo.CurrentUsageCount, 0)
		ev.Remaining = &remaining
	}
	publish(ctx, l.Publisher, l.Timeouts, ev)
	return nil
}
