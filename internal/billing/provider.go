package billing

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the provider reports that a resource does not exist.
var ErrNotFound = errors.New("billing resource not found")

// Subscription is the provider-owned subscription, reduced to its single item.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	ItemID            string
	PriceID           string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	BillingAnchor     time.Time
	LatestInvoiceID   string
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

type Price struct {
	ID         string
	ProductID  string
	UnitAmount int64
	Currency   string
	Active     bool
}

type Invoice struct {
	ID              string
	Status          string
	PaymentIntentID string
	ChargeID        string
	AmountPaid      int64
}

type Charge struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
}

// Payment is a refundable payment. Amounts are in the smallest currency unit.
type Payment struct {
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	AmountRefunded  int64
}

// Refundable is the part of the payment that has not been refunded yet.
func (p *Payment) Refundable() int64 {
	if remaining := p.Amount - p.AmountRefunded; remaining > 0 {
		return remaining
	}
	return 0
}

type Refund struct {
	ID     string
	Amount int64
}

type RefundRequest struct {
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Metadata        map[string]string
	IdempotencyKey  string
}

type SubscriptionUpdate struct {
	SubscriptionID    string
	ItemID            string
	PriceID           string
	ProrationBehavior string
	Metadata          map[string]string
}

type PriceCreate struct {
	ProductID  string
	UnitAmount int64
	Currency   string
	Metadata   map[string]string
}

// Provider is the set of billing operations the subscription flows depend on.
type Provider interface {
	ActiveSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, update SubscriptionUpdate) (*Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)

	GetPrice(ctx context.Context, priceID string) (*Price, error)
	CreateMonthlyPrice(ctx context.Context, params PriceCreate) (*Price, error)
	FindProductByName(ctx context.Context, name string) (string, error)
	CreateProduct(ctx context.Context, name, description string, metadata map[string]string) (string, error)

	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	LatestPaidInvoice(ctx context.Context, subscriptionID string) (*Invoice, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	GetPayment(ctx context.Context, paymentIntentID string) (*Payment, error)
	LatestCustomerPayment(ctx context.Context, customerID string) (*Payment, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}
