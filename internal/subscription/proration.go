package subscription

import (
	"context"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/shopspring/decimal"
)

const (
	// approximatePeriodLength assumes monthly billing when the provider gives no bounds.
	approximatePeriodLength = 30 * 24 * time.Hour
	minimumPeriodLength     = 24 * time.Hour
)

// Period is a billing period [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// ApproximatePeriod steps from the billing anchor in 30-day increments until the
// window straddles now.
func ApproximatePeriod(anchor, now time.Time) Period {
	start := anchor
	for !start.Add(approximatePeriodLength).After(now) {
		start = start.Add(approximatePeriodLength)
	}
	for start.After(now) {
		start = start.Add(-approximatePeriodLength)
	}
	return Period{Start: start, End: start.Add(approximatePeriodLength)}
}

// ProratedRefund returns (current − target) × remaining / duration, rounded to 2 dp.
// Remaining time is clamped to [0, duration].
func ProratedRefund(currentPrice, targetPrice decimal.Decimal, period Period, now time.Time) decimal.Decimal {
	duration := period.Duration()
	if duration <= 0 {
		return decimal.Zero
	}
	remaining := period.End.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > duration {
		remaining = duration
	}

	remainingSeconds := decimal.NewFromInt(int64(remaining / time.Second))
	durationSeconds := decimal.NewFromInt(int64(duration / time.Second))

	return currentPrice.Sub(targetPrice).
		Mul(remainingSeconds).
		Div(durationSeconds).
		Round(2)
}

func periodResolvers(sub *billing.Subscription, now time.Time) []resolver[Period] {
	return []resolver[Period]{
		{
			name: "subscription_item",
			fn: func(context.Context) (*Period, error) {
				if sub.PeriodStart.IsZero() || sub.PeriodEnd.IsZero() {
					return nil, nil
				}
				return &Period{Start: sub.PeriodStart, End: sub.PeriodEnd}, nil
			},
		},
		{
			name: "billing_anchor",
			fn: func(context.Context) (*Period, error) {
				if sub.BillingAnchor.IsZero() {
					return nil, nil
				}
				p := ApproximatePeriod(sub.BillingAnchor, now)
				return &p, nil
			},
		},
	}
}
