package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/config"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const (
	ProrationAlwaysInvoice = "always_invoice"

	expandLatestCharge = "latest_charge"
	expandPayments     = "payments"
)

// Stripe implements Provider on top of the Stripe API.
type Stripe struct {
	sc            *stripe.Client
	cb            *gobreaker.CircuitBreaker[any]
	webhookSecret string
}

func NewStripe(cfg *config.Config, onBreakerChange func(from, to gobreaker.State)) *Stripe {
	sc := stripe.NewClient(cfg.StripeSecretKey)
	return NewStripeWithClient(sc, cfg.StripeWebhookSecret, BreakerSettings{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Timeout:          cfg.BreakerTimeout,
		OnStateChange:    onBreakerChange,
	})
}

func NewStripeWithClient(sc *stripe.Client, webhookSecret string, settings BreakerSettings) *Stripe {
	return &Stripe{
		sc:            sc,
		cb:            newBreaker(settings),
		webhookSecret: webhookSecret,
	}
}

func (b *Stripe) ActiveSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	return execute(b.cb, func() ([]*Subscription, error) {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
		}
		var subs []*Subscription
		for s, err := range b.sc.V1Subscriptions.List(ctx, params) {
			if err != nil {
				return nil, fmt.Errorf("failed to list subscriptions: %w", err)
			}
			subs = append(subs, toSubscription(s))
		}
		return subs, nil
	})
}

func (b *Stripe) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return execute(b.cb, func() (*Subscription, error) {
		s, err := b.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, &stripe.SubscriptionRetrieveParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve subscription %s: %w", subscriptionID, err)
		}
		return toSubscription(s), nil
	})
}

func (b *Stripe) UpdateSubscriptionPrice(ctx context.Context, update SubscriptionUpdate) (*Subscription, error) {
	return execute(b.cb, func() (*Subscription, error) {
		params := &stripe.SubscriptionUpdateParams{
			Items: []*stripe.SubscriptionUpdateItemParams{
				{
					ID:    stripe.String(update.ItemID),
					Price: stripe.String(update.PriceID),
				},
			},
			Metadata: update.Metadata,
		}
		if update.ProrationBehavior != "" {
			params.ProrationBehavior = stripe.String(update.ProrationBehavior)
		}
		s, err := b.sc.V1Subscriptions.Update(ctx, update.SubscriptionID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to update subscription %s: %w", update.SubscriptionID, err)
		}
		return toSubscription(s), nil
	})
}

func (b *Stripe) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return execute(b.cb, func() (*Subscription, error) {
		params := &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		s, err := b.sc.V1Subscriptions.Update(ctx, subscriptionID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
		}
		return toSubscription(s), nil
	})
}

func (b *Stripe) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	return execute(b.cb, func() (*Price, error) {
		p, err := b.sc.V1Prices.Retrieve(ctx, priceID, &stripe.PriceRetrieveParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve price %s: %w", priceID, err)
		}
		return toPrice(p), nil
	})
}

func (b *Stripe) CreateMonthlyPrice(ctx context.Context, create PriceCreate) (*Price, error) {
	return execute(b.cb, func() (*Price, error) {
		params := &stripe.PriceCreateParams{
			Product:    stripe.String(create.ProductID),
			Currency:   stripe.String(create.Currency),
			UnitAmount: stripe.Int64(create.UnitAmount),
			Recurring: &stripe.PriceCreateRecurringParams{
				Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			},
			Metadata: create.Metadata,
		}
		p, err := b.sc.V1Prices.Create(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create price: %w", err)
		}
		return toPrice(p), nil
	})
}

func (b *Stripe) FindProductByName(ctx context.Context, name string) (string, error) {
	return execute(b.cb, func() (string, error) {
		for p, err := range b.sc.V1Products.List(ctx, &stripe.ProductListParams{Active: stripe.Bool(true)}) {
			if err != nil {
				return "", fmt.Errorf("failed to list products: %w", err)
			}
			if p.Name == name {
				return p.ID, nil
			}
		}
		return "", nil
	})
}

func (b *Stripe) CreateProduct(ctx context.Context, name, description string, metadata map[string]string) (string, error) {
	return execute(b.cb, func() (string, error) {
		params := &stripe.ProductCreateParams{
			Name:        stripe.String(name),
			Description: stripe.String(description),
			Metadata:    metadata,
		}
		product, err := b.sc.V1Products.Create(ctx, params)
		if err != nil {
			return "", fmt.Errorf("failed to create product: %w", err)
		}
		return product.ID, nil
	})
}

func (b *Stripe) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	return execute(b.cb, func() (*Invoice, error) {
		params := &stripe.InvoiceRetrieveParams{}
		params.AddExpand(expandPayments)
		inv, err := b.sc.V1Invoices.Retrieve(ctx, invoiceID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve invoice %s: %w", invoiceID, err)
		}
		return toInvoice(inv), nil
	})
}

func (b *Stripe) LatestPaidInvoice(ctx context.Context, subscriptionID string) (*Invoice, error) {
	return execute(b.cb, func() (*Invoice, error) {
		params := &stripe.InvoiceListParams{
			Subscription: stripe.String(subscriptionID),
			Status:       stripe.String(string(stripe.InvoiceStatusPaid)),
		}
		params.Limit = stripe.Int64(1)
		params.AddExpand("data." + expandPayments)
		for inv, err := range b.sc.V1Invoices.List(ctx, params) {
			if err != nil {
				return nil, fmt.Errorf("failed to list invoices: %w", err)
			}
			return toInvoice(inv), nil
		}
		return nil, nil
	})
}

func (b *Stripe) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	return execute(b.cb, func() (*Charge, error) {
		ch, err := b.sc.V1Charges.Retrieve(ctx, chargeID, &stripe.ChargeRetrieveParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve charge %s: %w", chargeID, err)
		}
		out := &Charge{ID: ch.ID, Amount: ch.Amount, AmountRefunded: ch.AmountRefunded}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		return out, nil
	})
}

func (b *Stripe) GetPayment(ctx context.Context, paymentIntentID string) (*Payment, error) {
	return execute(b.cb, func() (*Payment, error) {
		params := &stripe.PaymentIntentRetrieveParams{}
		params.AddExpand(expandLatestCharge)
		pi, err := b.sc.V1PaymentIntents.Retrieve(ctx, paymentIntentID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", paymentIntentID, err)
		}
		return toPayment(pi), nil
	})
}

func (b *Stripe) LatestCustomerPayment(ctx context.Context, customerID string) (*Payment, error) {
	return execute(b.cb, func() (*Payment, error) {
		params := &stripe.PaymentIntentListParams{
			Customer: stripe.String(customerID),
		}
		params.AddExpand("data." + expandLatestCharge)
		for pi, err := range b.sc.V1PaymentIntents.List(ctx, params) {
			if err != nil {
				return nil, fmt.Errorf("failed to list payment intents: %w", err)
			}
			if pi.Status == stripe.PaymentIntentStatusSucceeded {
				return toPayment(pi), nil
			}
		}
		return nil, nil
	})
}

func (b *Stripe) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	return execute(b.cb, func() (*Refund, error) {
		params := &stripe.RefundCreateParams{
			Amount:   stripe.Int64(req.Amount),
			Reason:   stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
			Metadata: req.Metadata,
		}
		if req.PaymentIntentID != "" {
			params.PaymentIntent = stripe.String(req.PaymentIntentID)
		} else {
			params.Charge = stripe.String(req.ChargeID)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		r, err := b.sc.V1Refunds.Create(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create refund: %w", err)
		}
		return &Refund{ID: r.ID, Amount: r.Amount}, nil
	})
}

func (b *Stripe) VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, b.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}

// SubscriptionFromEvent decodes the subscription carried by a customer.subscription.* event.
func SubscriptionFromEvent(event *stripe.Event) (*Subscription, error) {
	var s stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode subscription from event %s: %w", event.ID, err)
	}
	return toSubscription(&s), nil
}

func toSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.LatestInvoice != nil {
		out.LatestInvoiceID = s.LatestInvoice.ID
	}
	if s.BillingCycleAnchor > 0 {
		out.BillingAnchor = time.Unix(s.BillingCycleAnchor, 0)
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 && item.CurrentPeriodEnd > 0 {
			out.PeriodStart = time.Unix(item.CurrentPeriodStart, 0)
			out.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		}
	}
	return out
}

func toPrice(p *stripe.Price) *Price {
	out := &Price{
		ID:         p.ID,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
		Active:     p.Active,
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	return out
}

func toInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:         inv.ID,
		Status:     string(inv.Status),
		AmountPaid: inv.AmountPaid,
	}
	if inv.Payments == nil {
		return out
	}
	for _, p := range inv.Payments.Data {
		if p.Payment == nil {
			continue
		}
		if out.PaymentIntentID == "" && p.Payment.PaymentIntent != nil {
			out.PaymentIntentID = p.Payment.PaymentIntent.ID
		}
		if out.ChargeID == "" && p.Payment.Charge != nil {
			out.ChargeID = p.Payment.Charge.ID
		}
	}
	return out
}

func toPayment(pi *stripe.PaymentIntent) *Payment {
	out := &Payment{
		PaymentIntentID: pi.ID,
		Amount:          pi.AmountReceived,
	}
	if pi.LatestCharge != nil {
		out.ChargeID = pi.LatestCharge.ID
		out.AmountRefunded = pi.LatestCharge.AmountRefunded
	}
	return out
}

var _ Provider = (*Stripe)(nil)
