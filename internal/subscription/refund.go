package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundIssued    RefundStatus = "issued"
	RefundNotNeeded RefundStatus = "not_needed"
	RefundSkipped   RefundStatus = "skipped"
	RefundFailed    RefundStatus = "failed"
)

var errNotPaid = errors.New("invoice is not paid")

// RefundOutcome describes what the downgrade refund sub-flow did. Amounts are in
// major currency units.
type RefundOutcome struct {
	Status     RefundStatus
	Calculated decimal.Decimal
	Available  decimal.Decimal
	Amount     decimal.Decimal
	Refund     *billing.Refund
	Reason     string
}

type downgrade struct {
	businessID   string
	subscription *billing.Subscription
	fromPlan     string
	toPlan       string
	currentPrice decimal.Decimal
	targetPrice  decimal.Decimal
}

// refundDowngrade refunds the unused part of the old plan, capped at what is left
// on the original payment.
func (s *Service) refundDowngrade(ctx context.Context, d downgrade, now time.Time) (*RefundOutcome, error) {
	sub := d.subscription

	invoice, _, err := firstMatch(ctx, invoiceResolvers(s.provider, sub)...)
	if err != nil {
		return nil, fmt.Errorf("failed to locate paid invoice: %w", err)
	}

	payment, source, err := firstMatch(ctx, paymentResolvers(s.provider, invoice, sub.CustomerID)...)
	if err != nil {
		return nil, fmt.Errorf("failed to locate payment for invoice %s: %w", invoice.ID, err)
	}

	period, periodSource, err := firstMatch(ctx, periodResolvers(sub, now)...)
	if err != nil {
		return nil, fmt.Errorf("failed to determine billing period: %w", err)
	}
	logging.EnrichMetadata(ctx, "payment_source", source)
	logging.EnrichMetadata(ctx, "period_source", periodSource)

	if period.Duration() < minimumPeriodLength {
		return &RefundOutcome{
			Status: RefundSkipped,
			Reason: fmt.Sprintf("billing period of %s is shorter than one day", period.Duration()),
		}, nil
	}

	calculated := ProratedRefund(d.currentPrice, d.targetPrice, *period, now)
	available := decimal.New(payment.Refundable(), -2)
	amount := decimal.Min(calculated, available)

	outcome := &RefundOutcome{
		Calculated: calculated,
		Available:  available,
	}
	if !amount.IsPositive() {
		outcome.Status = RefundNotNeeded
		outcome.Amount = decimal.Zero
		return outcome, nil
	}

	refund, err := s.provider.CreateRefund(ctx, billing.RefundRequest{
		PaymentIntentID: payment.PaymentIntentID,
		ChargeID:        payment.ChargeID,
		Amount:          amount.Shift(2).IntPart(),
		IdempotencyKey:  uuid.NewString(),
		Metadata: map[string]string{
			"subscription_id":      sub.ID,
			"business_id":          d.businessID,
			"from_plan":            d.fromPlan,
			"to_plan":              d.toPlan,
			"calculated_refund":    calculated.StringFixed(2),
			"available_for_refund": available.StringFixed(2),
			"payment_source":       source,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	outcome.Status = RefundIssued
	outcome.Amount = decimal.New(refund.Amount, -2)
	outcome.Refund = refund
	return outcome, nil
}

func invoiceResolvers(p billing.Provider, sub *billing.Subscription) []resolver[billing.Invoice] {
	return []resolver[billing.Invoice]{
		{
			name: "latest_invoice",
			fn: func(ctx context.Context) (*billing.Invoice, error) {
				if sub.LatestInvoiceID == "" {
					return nil, nil
				}
				inv, err := p.GetInvoice(ctx, sub.LatestInvoiceID)
				if err != nil {
					return nil, err
				}
				if inv.Status != "paid" {
					return nil, fmt.Errorf("%s: %w", inv.ID, errNotPaid)
				}
				return inv, nil
			},
		},
		{
			name: "paid_invoices",
			fn: func(ctx context.Context) (*billing.Invoice, error) {
				return p.LatestPaidInvoice(ctx, sub.ID)
			},
		},
	}
}

func paymentResolvers(p billing.Provider, inv *billing.Invoice, customerID string) []resolver[billing.Payment] {
	return []resolver[billing.Payment]{
		{
			name: "invoice_payment_intent",
			fn: func(ctx context.Context) (*billing.Payment, error) {
				if inv.PaymentIntentID == "" {
					return nil, nil
				}
				return p.GetPayment(ctx, inv.PaymentIntentID)
			},
		},
		{
			name: "invoice_charge",
			fn: func(ctx context.Context) (*billing.Payment, error) {
				if inv.ChargeID == "" {
					return nil, nil
				}
				charge, err := p.GetCharge(ctx, inv.ChargeID)
				if err != nil {
					return nil, err
				}
				if charge.PaymentIntentID != "" {
					return p.GetPayment(ctx, charge.PaymentIntentID)
				}
				return &billing.Payment{
					ChargeID:       charge.ID,
					Amount:         charge.Amount,
					AmountRefunded: charge.AmountRefunded,
				}, nil
			},
		},
		{
			name: "customer_latest_payment",
			fn: func(ctx context.Context) (*billing.Payment, error) {
				return p.LatestCustomerPayment(ctx, customerID)
			},
		},
	}
}
