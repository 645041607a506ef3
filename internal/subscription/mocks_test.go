package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/business"
	"github.com/blagoySimandov/salonsuite/internal/lease"
	"github.com/blagoySimandov/salonsuite/internal/models"
	"github.com/stretchr/testify/require"
)

var errUnexpectedCall = errors.New("unexpected call")

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type mockProvider struct {
	activeSubscriptionsFunc     func(ctx context.Context, customerID string) ([]*billing.Subscription, error)
	getSubscriptionFunc         func(ctx context.Context, id string) (*billing.Subscription, error)
	updateSubscriptionPriceFunc func(ctx context.Context, update billing.SubscriptionUpdate) (*billing.Subscription, error)
	cancelAtPeriodEndFunc       func(ctx context.Context, id string) (*billing.Subscription, error)
	getPriceFunc                func(ctx context.Context, id string) (*billing.Price, error)
	createMonthlyPriceFunc      func(ctx context.Context, params billing.PriceCreate) (*billing.Price, error)
	findProductByNameFunc       func(ctx context.Context, name string) (string, error)
	createProductFunc           func(ctx context.Context, name, description string, metadata map[string]string) (string, error)
	getInvoiceFunc              func(ctx context.Context, id string) (*billing.Invoice, error)
	latestPaidInvoiceFunc       func(ctx context.Context, subscriptionID string) (*billing.Invoice, error)
	getChargeFunc               func(ctx context.Context, id string) (*billing.Charge, error)
	getPaymentFunc              func(ctx context.Context, id string) (*billing.Payment, error)
	latestCustomerPaymentFunc   func(ctx context.Context, customerID string) (*billing.Payment, error)
	createRefundFunc            func(ctx context.Context, req billing.RefundRequest) (*billing.Refund, error)

	updates        atomic.Int32
	cancels        atomic.Int32
	productsMade   atomic.Int32
	pricesMade     atomic.Int32
	refunds        atomic.Int32
	refundRequests []billing.RefundRequest
	mu             sync.Mutex
}

func (m *mockProvider) mutations() int32 {
	return m.updates.Load() + m.cancels.Load() + m.productsMade.Load() + m.pricesMade.Load() + m.refunds.Load()
}

func (m *mockProvider) ActiveSubscriptions(ctx context.Context, customerID string) ([]*billing.Subscription, error) {
	if m.activeSubscriptionsFunc != nil {
		return m.activeSubscriptionsFunc(ctx, customerID)
	}
	return nil, nil
}

func (m *mockProvider) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	if m.getSubscriptionFunc != nil {
		return m.getSubscriptionFunc(ctx, id)
	}
	return nil, errUnexpectedCall
}

func (m *mockProvider) UpdateSubscriptionPrice(ctx context.Context, update billing.SubscriptionUpdate) (*billing.Subscription, error) {
	m.updates.Add(1)
	if m.updateSubscriptionPriceFunc != nil {
		return m.updateSubscriptionPriceFunc(ctx, update)
	}
	return &billing.Subscription{
		ID:       update.SubscriptionID,
		ItemID:   update.ItemID,
		PriceID:  update.PriceID,
		Status:   "active",
		Metadata: update.Metadata,
	}, nil
}

func (m *mockProvider) CancelAtPeriodEnd(ctx context.Context, id string) (*billing.Subscription, error) {
	m.cancels.Add(1)
	if m.cancelAtPeriodEndFunc != nil {
		return m.cancelAtPeriodEndFunc(ctx, id)
	}
	return nil, errUnexpectedCall
}

func (m *mockProvider) GetPrice(ctx context.Context, id string) (*billing.Price, error) {
	if m.getPriceFunc != nil {
		return m.getPriceFunc(ctx, id)
	}
	return &billing.Price{ID: id, Active: true}, nil
}

func (m *mockProvider) CreateMonthlyPrice(ctx context.Context, params billing.PriceCreate) (*billing.Price, error) {
	m.pricesMade.Add(1)
	if m.createMonthlyPriceFunc != nil {
		return m.createMonthlyPriceFunc(ctx, params)
	}
	return nil, errUnexpectedCall
}

func (m *mockProvider) FindProductByName(ctx context.Context, name string) (string, error) {
	if m.findProductByNameFunc != nil {
		return m.findProductByNameFunc(ctx, name)
	}
	return "", nil
}

func (m *mockProvider) CreateProduct(ctx context.Context, name, description string, metadata map[string]string) (string, error) {
	m.productsMade.Add(1)
	if m.createProductFunc != nil {
		return m.createProductFunc(ctx, name, description, metadata)
	}
	return "", errUnexpectedCall
}

func (m *mockProvider) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	if m.getInvoiceFunc != nil {
		return m.getInvoiceFunc(ctx, id)
	}
	return nil, errUnexpectedCall
}

func (m *mockProvider) LatestPaidInvoice(ctx context.Context, subscriptionID string) (*billing.Invoice, error) {
	if m.latestPaidInvoiceFunc != nil {
		return m.latestPaidInvoiceFunc(ctx, subscriptionID)
	}
	return nil, nil
}

func (m *mockProvider) GetCharge(ctx context.Context, id string) (*billing.Charge, error) {
	if m.getChargeFunc != nil {
		return m.getChargeFunc(ctx, id)
	}
	return nil, errUnexpectedCall
}

func (m *mockProvider) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	if m.getPaymentFunc != nil {
		return m.getPaymentFunc(ctx, id)
	}
	return nil, errUnexpectedCall
}

func (m *mockProvider) LatestCustomerPayment(ctx context.Context, customerID string) (*billing.Payment, error) {
	if m.latestCustomerPaymentFunc != nil {
		return m.latestCustomerPaymentFunc(ctx, customerID)
	}
	return nil, nil
}

func (m *mockProvider) CreateRefund(ctx context.Context, req billing.RefundRequest) (*billing.Refund, error) {
	m.refunds.Add(1)
	m.mu.Lock()
	m.refundRequests = append(m.refundRequests, req)
	m.mu.Unlock()
	if m.createRefundFunc != nil {
		return m.createRefundFunc(ctx, req)
	}
	return &billing.Refund{ID: "re_test", Amount: req.Amount}, nil
}

type mockRepository struct {
	mu         sync.Mutex
	businesses map[string]*models.Business
	updateErr  error
	writes     int
}

func newMockRepository(businesses ...*models.Business) *mockRepository {
	r := &mockRepository{businesses: make(map[string]*models.Business)}
	for _, b := range businesses {
		r.businesses[b.ID] = b
	}
	return r
}

func (r *mockRepository) GetByID(_ context.Context, id string) (*models.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.businesses[id]
	if !ok {
		return nil, business.ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (r *mockRepository) GetByStripeCustomerID(_ context.Context, customerID string) (*models.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.businesses {
		if b.StripeCustomerID == customerID {
			clone := *b
			return &clone, nil
		}
	}
	return nil, business.ErrNotFound
}

func (r *mockRepository) UpdateSubscription(_ context.Context, id string, mirror *models.SubscriptionMirror) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	b, ok := r.businesses[id]
	if !ok {
		return business.ErrNotFound
	}
	b.Subscription = mirror
	r.writes++
	return nil
}

func (r *mockRepository) mirror(id string) *models.SubscriptionMirror {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.businesses[id].Subscription
}

var testPriceIDs = map[string]string{
	billing.PlanStarter:      "price_starter",
	billing.PlanProfessional: "price_professional",
	billing.PlanBusiness:     "price_business",
}

func newTestService(t *testing.T, provider *mockProvider, repo *mockRepository) *Service {
	t.Helper()
	catalog := billing.NewCatalog(testPriceIDs)
	prices, err := NewPriceResolver(provider, catalog, "gbp", nil)
	require.NoError(t, err)
	svc := NewService(repo, provider, catalog, prices, lease.NewLocalLocker(), time.Minute, nil)
	svc.now = func() time.Time { return testNow }
	return svc
}

func salon() *models.Business {
	return &models.Business{
		ID:               "biz_1",
		Name:             "Glow Studio",
		StripeCustomerID: "cus_1",
	}
}

// activeOn returns a subscription on priceID whose period ends in remaining.
func activeOn(priceID string, remaining, length time.Duration) *billing.Subscription {
	end := testNow.Add(remaining)
	return &billing.Subscription{
		ID:              "sub_1",
		CustomerID:      "cus_1",
		Status:          "active",
		ItemID:          "si_1",
		PriceID:         priceID,
		PeriodStart:     end.Add(-length),
		PeriodEnd:       end,
		LatestInvoiceID: "in_1",
	}
}

func withSubscriptions(subs ...*billing.Subscription) func(context.Context, string) ([]*billing.Subscription, error) {
	return func(context.Context, string) ([]*billing.Subscription, error) {
		return subs, nil
	}
}

func serving(sub *billing.Subscription) func(context.Context, string) (*billing.Subscription, error) {
	return func(context.Context, string) (*billing.Subscription, error) {
		return sub, nil
	}
}

func paidInvoice(context.Context, string) (*billing.Invoice, error) {
	return &billing.Invoice{ID: "in_1", Status: "paid", PaymentIntentID: "pi_1"}, nil
}

func paymentOf(amount, refunded int64) func(context.Context, string) (*billing.Payment, error) {
	return func(_ context.Context, id string) (*billing.Payment, error) {
		return &billing.Payment{PaymentIntentID: id, ChargeID: "ch_1", Amount: amount, AmountRefunded: refunded}, nil
	}
}
