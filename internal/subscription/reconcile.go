package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/business"
	"github.com/blagoySimandov/salonsuite/internal/logging"
	"github.com/blagoySimandov/salonsuite/internal/models"
)

const (
	statusCanceled = "canceled"
	statusPastDue  = "past_due"
)

// SubscriptionChanged mirrors a created or updated provider subscription. The
// subscription is read back from the provider because events arrive out of order.
func (s *Service) SubscriptionChanged(ctx context.Context, event *billing.Subscription) error {
	sub, err := s.latest(ctx, event)
	if err != nil {
		return err
	}
	biz, err := s.businessFor(ctx, sub)
	if err != nil {
		return err
	}
	mirror := buildMirror(biz.Subscription, sub, s.planFor(sub, biz.Subscription), s.now())
	return s.writeMirror(ctx, biz.ID, mirror)
}

// SubscriptionDeleted marks the mirrored subscription as canceled.
func (s *Service) SubscriptionDeleted(ctx context.Context, sub *billing.Subscription) error {
	biz, err := s.businessFor(ctx, sub)
	if err != nil {
		return err
	}
	mirror := buildMirror(biz.Subscription, sub, s.planFor(sub, biz.Subscription), s.now())
	mirror.Status = statusCanceled
	mirror.CancelAtPeriodEnd = false
	return s.writeMirror(ctx, biz.ID, mirror)
}

// InvoiceSettled refreshes the mirror from the provider after an invoice was paid or
// its payment failed.
func (s *Service) InvoiceSettled(ctx context.Context, subscriptionID string, paymentFailed bool) error {
	if subscriptionID == "" {
		return nil
	}
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to retrieve subscription %s: %w", subscriptionID, err)
	}

	biz, err := s.businessFor(ctx, sub)
	if err != nil {
		return err
	}
	mirror := buildMirror(biz.Subscription, sub, s.planFor(sub, biz.Subscription), s.now())
	if paymentFailed && mirror.Status == "active" {
		mirror.Status = statusPastDue
	}
	return s.writeMirror(ctx, biz.ID, mirror)
}

// latest returns the provider's current view of the subscription, or the event
// payload when the provider no longer has it.
func (s *Service) latest(ctx context.Context, event *billing.Subscription) (*billing.Subscription, error) {
	sub, err := s.provider.GetSubscription(ctx, event.ID)
	if errors.Is(err, billing.ErrNotFound) {
		return event, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", event.ID, err)
	}
	return sub, nil
}

// businessFor finds the business by the metadata written on plan change, then by
// customer id.
func (s *Service) businessFor(ctx context.Context, sub *billing.Subscription) (*models.Business, error) {
	logging.EnrichSubscription(ctx, sub.ID)

	if id := sub.Metadata["businessId"]; id != "" {
		biz, err := s.businesses.GetByID(ctx, id)
		if err == nil {
			logging.EnrichBusiness(ctx, biz.ID)
			return biz, nil
		}
		if !errors.Is(err, business.ErrNotFound) {
			return nil, fmt.Errorf("failed to load business %s: %w", id, err)
		}
	}

	if sub.CustomerID == "" {
		return nil, ErrBusinessNotFound
	}
	biz, err := s.businesses.GetByStripeCustomerID(ctx, sub.CustomerID)
	if err != nil {
		if errors.Is(err, business.ErrNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, fmt.Errorf("failed to load business for customer %s: %w", sub.CustomerID, err)
	}
	logging.EnrichBusiness(ctx, biz.ID)
	return biz, nil
}

func (s *Service) writeMirror(ctx context.Context, businessID string, mirror *models.SubscriptionMirror) error {
	if err := s.businesses.UpdateSubscription(ctx, businessID, mirror); err != nil {
		return fmt.Errorf("failed to update subscription for business %s: %w", businessID, err)
	}
	return nil
}
