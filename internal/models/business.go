package models

import "time"

// Business is a salon or spa account. Subscription mirrors the billing provider's
// state and is what dashboards and access checks read.
type Business struct {
	ID               string              `json:"id" firestore:"-"`
	Name             string              `json:"name" firestore:"name"`
	StripeCustomerID string              `json:"stripeCustomerId,omitempty" firestore:"stripeCustomerId,omitempty"`
	Subscription     *SubscriptionMirror `json:"subscription,omitempty" firestore:"subscription,omitempty"`
	CreatedAt        time.Time           `json:"createdAt" firestore:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt" firestore:"updatedAt"`
}

// SubscriptionMirror is the denormalized copy of the provider subscription.
type SubscriptionMirror struct {
	ID                 string     `json:"id" firestore:"id"`
	Plan               string     `json:"plan" firestore:"plan"`
	PriceID            string     `json:"priceId" firestore:"priceId"`
	Status             string     `json:"status" firestore:"status"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty" firestore:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty" firestore:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd" firestore:"cancelAtPeriodEnd"`
	LastRefundID       string     `json:"lastRefundId,omitempty" firestore:"lastRefundId,omitempty"`
	LastRefundAmount   float64    `json:"lastRefundAmount,omitempty" firestore:"lastRefundAmount,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt" firestore:"updatedAt"`
}

// HasBillingCustomer reports whether a Stripe customer has been created for the business.
func (b *Business) HasBillingCustomer() bool {
	return b.StripeCustomerID != ""
}
