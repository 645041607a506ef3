// Package subscription implements plan changes, cancellation and webhook
// reconciliation for a business's subscription.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/business"
	"github.com/blagoySimandov/salonsuite/internal/lease"
	"github.com/blagoySimandov/salonsuite/internal/logger"
	"github.com/blagoySimandov/salonsuite/internal/logging"
	"github.com/blagoySimandov/salonsuite/internal/metrics"
	"github.com/blagoySimandov/salonsuite/internal/models"
	"github.com/shopspring/decimal"
)

const customPlanName = "custom"

type Direction string

const (
	DirectionUpgrade   Direction = "upgrade"
	DirectionDowngrade Direction = "downgrade"
	DirectionLateral   Direction = "lateral"
)

func classify(current, target decimal.Decimal) Direction {
	switch target.Cmp(current) {
	case 1:
		return DirectionUpgrade
	case -1:
		return DirectionDowngrade
	default:
		return DirectionLateral
	}
}

// ChangeResult is the outcome of a successful plan change.
type ChangeResult struct {
	Subscription  *billing.Subscription
	Mirror        *models.SubscriptionMirror
	Plan          *billing.Plan
	FromPlan      string
	Direction     Direction
	RefundOutcome *RefundOutcome
	Message       string
}

func (r *ChangeResult) IsUpgrade() bool   { return r.Direction == DirectionUpgrade }
func (r *ChangeResult) IsDowngrade() bool { return r.Direction == DirectionDowngrade }

// IssuedRefund returns the refund that was issued, if any.
func (r *ChangeResult) IssuedRefund() (*billing.Refund, decimal.Decimal, bool) {
	if r.RefundOutcome == nil || r.RefundOutcome.Status != RefundIssued {
		return nil, decimal.Zero, false
	}
	return r.RefundOutcome.Refund, r.RefundOutcome.Amount, true
}

type Service struct {
	businesses business.Repository
	provider   billing.Provider
	catalog    *billing.Catalog
	prices     *PriceResolver
	locker     lease.Locker
	leaseTTL   time.Duration
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time
}

func NewService(
	businesses business.Repository,
	provider billing.Provider,
	catalog *billing.Catalog,
	prices *PriceResolver,
	locker lease.Locker,
	leaseTTL time.Duration,
	m *metrics.Metrics,
) *Service {
	return &Service{
		businesses: businesses,
		provider:   provider,
		catalog:    catalog,
		prices:     prices,
		locker:     locker,
		leaseTTL:   leaseTTL,
		metrics:    m,
		log:        logger.Log.With("component", "subscription"),
		now:        time.Now,
	}
}

// ChangePlan moves the business's active subscription to planID.
func (s *Service) ChangePlan(ctx context.Context, businessID, planID string) (*ChangeResult, error) {
	plan, ok := s.catalog.Get(planID)
	if !ok {
		return nil, ErrInvalidPlan
	}
	logging.EnrichBusiness(ctx, businessID)

	release, err := s.acquire(ctx, businessID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, businessID, release)

	biz, sub, err := s.loadActive(ctx, businessID)
	if err != nil {
		return nil, err
	}
	logging.EnrichSubscription(ctx, sub.ID)

	if s.onPlan(sub, plan) {
		return nil, ErrAlreadyOnPlan
	}

	targetPriceID, err := s.prices.Resolve(ctx, plan)
	if err != nil {
		return nil, providerError("resolve target price", err)
	}
	if targetPriceID == sub.PriceID {
		return nil, ErrAlreadyOnPlan
	}

	fromPlan, currentPrice, err := s.currentPlan(ctx, sub)
	if err != nil {
		return nil, providerError("retrieve current price", err)
	}
	targetPrice := plan.Amount()
	direction := classify(currentPrice, targetPrice)
	logging.EnrichPlanChange(ctx, fromPlan, plan.ID, string(direction))

	var outcome *RefundOutcome
	if direction == DirectionDowngrade {
		outcome = s.settleDowngrade(ctx, downgrade{
			businessID:   biz.ID,
			subscription: sub,
			fromPlan:     fromPlan,
			toPlan:       plan.ID,
			currentPrice: currentPrice,
			targetPrice:  targetPrice,
		})
	}

	updated, err := s.provider.UpdateSubscriptionPrice(ctx, billing.SubscriptionUpdate{
		SubscriptionID:    sub.ID,
		ItemID:            sub.ItemID,
		PriceID:           targetPriceID,
		ProrationBehavior: billing.ProrationAlwaysInvoice,
		Metadata: map[string]string{
			"businessId": biz.ID,
			"plan":       plan.ID,
		},
	})
	if err != nil {
		s.metrics.RecordPlanChange(string(direction), "failed")
		return nil, providerError("update subscription", err)
	}

	mirror := buildMirror(biz.Subscription, updated, plan.ID, s.now())
	if outcome != nil && outcome.Status == RefundIssued {
		mirror.LastRefundID = outcome.Refund.ID
		mirror.LastRefundAmount = outcome.Amount.InexactFloat64()
	}
	if err := s.businesses.UpdateSubscription(ctx, biz.ID, mirror); err != nil {
		s.metrics.RecordPlanChange(string(direction), "failed")
		return nil, providerError("update business subscription", err)
	}

	s.metrics.RecordPlanChange(string(direction), "success")

	result := &ChangeResult{
		Subscription:  updated,
		Mirror:        mirror,
		Plan:          plan,
		FromPlan:      fromPlan,
		Direction:     direction,
		RefundOutcome: outcome,
	}
	var refunded *decimal.Decimal
	if _, amount, ok := result.IssuedRefund(); ok {
		refunded = &amount
	}
	result.Message = composeMessage(direction, plan.DisplayName, refunded)
	return result, nil
}

// CancelAtPeriodEnd stops renewal of the business's subscription and mirrors the flag.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, businessID string) (*models.SubscriptionMirror, error) {
	logging.EnrichBusiness(ctx, businessID)

	release, err := s.acquire(ctx, businessID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, businessID, release)

	biz, sub, err := s.loadActive(ctx, businessID)
	if err != nil {
		return nil, err
	}
	logging.EnrichSubscription(ctx, sub.ID)

	updated, err := s.provider.CancelAtPeriodEnd(ctx, sub.ID)
	if err != nil {
		return nil, providerError("cancel subscription", err)
	}

	mirror := buildMirror(biz.Subscription, updated, s.planFor(updated, biz.Subscription), s.now())
	if err := s.businesses.UpdateSubscription(ctx, biz.ID, mirror); err != nil {
		return nil, providerError("update business subscription", err)
	}
	return mirror, nil
}

// Status returns the mirrored subscription of the business.
func (s *Service) Status(ctx context.Context, businessID string) (*models.SubscriptionMirror, error) {
	biz, err := s.businesses.GetByID(ctx, businessID)
	if err != nil {
		if errors.Is(err, business.ErrNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, providerError("load business", err)
	}
	if biz.Subscription == nil {
		return nil, ErrNoActiveSubscription
	}
	return biz.Subscription, nil
}

func (s *Service) acquire(ctx context.Context, businessID string) (lease.Release, error) {
	release, err := s.locker.Acquire(ctx, businessID, s.leaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		return nil, ErrChangeInProgress
	}
	if err != nil {
		return nil, providerError("acquire business lease", err)
	}
	return release, nil
}

func (s *Service) release(ctx context.Context, businessID string, release lease.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("failed to release business lease", "business_id", businessID, "error", err)
	}
}

func (s *Service) loadActive(ctx context.Context, businessID string) (*models.Business, *billing.Subscription, error) {
	biz, err := s.businesses.GetByID(ctx, businessID)
	if err != nil {
		if errors.Is(err, business.ErrNotFound) {
			return nil, nil, ErrBusinessNotFound
		}
		return nil, nil, providerError("load business", err)
	}
	if !biz.HasBillingCustomer() {
		return nil, nil, ErrNoBillingCustomer
	}

	subs, err := s.provider.ActiveSubscriptions(ctx, biz.StripeCustomerID)
	if err != nil {
		return nil, nil, providerError("list active subscriptions", err)
	}
	if len(subs) == 0 {
		return nil, nil, ErrNoActiveSubscription
	}
	return biz, subs[0], nil
}

// currentPlan names the plan behind the subscription's price and returns its amount.
// Prices outside the catalog are read from the provider.
func (s *Service) currentPlan(ctx context.Context, sub *billing.Subscription) (string, decimal.Decimal, error) {
	if p, ok := s.prices.PlanForPrice(sub.PriceID); ok {
		return p.ID, p.Amount(), nil
	}

	price, err := s.provider.GetPrice(ctx, sub.PriceID)
	if err != nil {
		return "", decimal.Zero, err
	}
	name := customPlanName
	if p, ok := s.catalog.Get(sub.Metadata["plan"]); ok {
		name = p.ID
	}
	return name, decimal.New(price.UnitAmount, -2), nil
}

// onPlan reports whether the subscription already bills the plan. Prices created in
// an earlier process are recognised by the plan metadata written on plan change.
func (s *Service) onPlan(sub *billing.Subscription, plan *billing.Plan) bool {
	if slices.Contains(s.prices.KnownPriceIDs(plan), sub.PriceID) {
		return true
	}
	if _, ok := s.prices.PlanForPrice(sub.PriceID); ok {
		return false
	}
	return sub.Metadata["plan"] == plan.ID
}

// planFor picks the plan id to mirror for a provider subscription.
func (s *Service) planFor(sub *billing.Subscription, existing *models.SubscriptionMirror) string {
	if p, ok := s.prices.PlanForPrice(sub.PriceID); ok {
		return p.ID
	}
	if p, ok := s.catalog.Get(sub.Metadata["plan"]); ok {
		return p.ID
	}
	if existing != nil && existing.Plan != "" {
		return existing.Plan
	}
	return customPlanName
}

// settleDowngrade runs the refund sub-flow. Failures are logged and counted but never
// stop the plan change.
func (s *Service) settleDowngrade(ctx context.Context, d downgrade) *RefundOutcome {
	log := s.log.With(
		"business_id", d.businessID,
		"subscription_id", d.subscription.ID,
		"from_plan", d.fromPlan,
		"to_plan", d.toPlan,
	)

	outcome, err := s.refundDowngrade(ctx, d, s.now())
	if err != nil {
		log.Error("downgrade refund failed, continuing without refund", "error", err)
		s.metrics.RecordRefund(string(RefundFailed), 0)
		logging.EnrichRefund(ctx, string(RefundFailed), "", "")
		return &RefundOutcome{Status: RefundFailed, Reason: err.Error()}
	}

	switch outcome.Status {
	case RefundIssued:
		log.Info("downgrade refund issued",
			"refund_id", outcome.Refund.ID,
			"amount", outcome.Amount.StringFixed(2),
			"calculated", outcome.Calculated.StringFixed(2),
			"available", outcome.Available.StringFixed(2),
		)
		logging.EnrichRefund(ctx, string(outcome.Status), outcome.Refund.ID, outcome.Amount.StringFixed(2))
	case RefundSkipped:
		log.Warn("downgrade refund skipped", "reason", outcome.Reason)
		logging.EnrichRefund(ctx, string(outcome.Status), "", "")
	default:
		log.Info("no downgrade refund due",
			"calculated", outcome.Calculated.StringFixed(2),
			"available", outcome.Available.StringFixed(2),
		)
		logging.EnrichRefund(ctx, string(outcome.Status), "", "")
	}

	s.metrics.RecordRefund(string(outcome.Status), outcome.Amount.InexactFloat64())
	return outcome
}

func buildMirror(existing *models.SubscriptionMirror, sub *billing.Subscription, planID string, now time.Time) *models.SubscriptionMirror {
	mirror := &models.SubscriptionMirror{
		ID:                sub.ID,
		Plan:              planID,
		PriceID:           sub.PriceID,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		UpdatedAt:         now,
	}
	if !sub.PeriodStart.IsZero() {
		start := sub.PeriodStart
		mirror.CurrentPeriodStart = &start
	}
	if !sub.PeriodEnd.IsZero() {
		end := sub.PeriodEnd
		mirror.CurrentPeriodEnd = &end
	}
	if existing != nil && existing.ID == sub.ID {
		mirror.LastRefundID = existing.LastRefundID
		mirror.LastRefundAmount = existing.LastRefundAmount
		if mirror.CurrentPeriodStart == nil {
			mirror.CurrentPeriodStart = existing.CurrentPeriodStart
		}
		if mirror.CurrentPeriodEnd == nil {
			mirror.CurrentPeriodEnd = existing.CurrentPeriodEnd
		}
	}
	return mirror
}
