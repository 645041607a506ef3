package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

func newTestStripe(t *testing.T, handler http.Handler, settings billing.BreakerSettings) *billing.Stripe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	sc := stripe.NewClient("sk_test_123", stripe.WithBackends(backends))
	return billing.NewStripeWithClient(sc, "whsec_test_secret", settings)
}

func writeStripeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func resourceMissing(w http.ResponseWriter, message string) {
	writeStripeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{
			"type":    "invalid_request_error",
			"code":    "resource_missing",
			"message": message,
		},
	})
}

func TestStripe_GetPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/prices/price_pro", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeStripeJSON(w, http.StatusOK, map[string]any{
			"id":          "price_pro",
			"object":      "price",
			"unit_amount": 7900,
			"currency":    "gbp",
			"active":      true,
			"product":     "prod_pro",
		})
	})
	sc := newTestStripe(t, mux, billing.BreakerSettings{})

	price, err := sc.GetPrice(context.Background(), "price_pro")
	require.NoError(t, err)
	assert.Equal(t, &billing.Price{
		ID:         "price_pro",
		ProductID:  "prod_pro",
		UnitAmount: 7900,
		Currency:   "gbp",
		Active:     true,
	}, price)
}

func TestStripe_MissingResourceMapsToErrNotFound(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		resourceMissing(w, "No such price: 'price_gone'")
	})
	sc := newTestStripe(t, handler, billing.BreakerSettings{FailureThreshold: 2, Timeout: time.Minute})

	for range 3 {
		_, err := sc.GetPrice(context.Background(), "price_gone")
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrNotFound)
	}
	// Client errors never open the breaker.
	assert.Equal(t, int32(3), hits.Load())
}

func TestStripe_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeStripeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"type": "api_error", "message": "internal"},
		})
	})

	var transitions []gobreaker.State
	sc := newTestStripe(t, handler, billing.BreakerSettings{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		OnStateChange: func(_, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})

	for range 2 {
		_, err := sc.GetSubscription(context.Background(), "sub_1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, billing.ErrNotFound)
	}

	_, err := sc.GetSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestStripe_UpdateSubscriptionPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/subscriptions/sub_1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "si_1", r.PostForm.Get("items[0][id]"))
		assert.Equal(t, "price_starter", r.PostForm.Get("items[0][price]"))
		assert.Equal(t, billing.ProrationAlwaysInvoice, r.PostForm.Get("proration_behavior"))
		assert.Equal(t, "biz_1", r.PostForm.Get("metadata[businessId]"))

		writeStripeJSON(w, http.StatusOK, map[string]any{
			"id":       "sub_1",
			"object":   "subscription",
			"customer": "cus_1",
			"status":   "active",
			"metadata": map[string]string{"businessId": "biz_1", "plan": "starter"},
			"items": map[string]any{
				"object": "list",
				"data": []map[string]any{{
					"id":                   "si_1",
					"object":               "subscription_item",
					"price":                map[string]any{"id": "price_starter", "object": "price"},
					"current_period_start": 1760000000,
					"current_period_end":   1762592000,
				}},
			},
		})
	})
	sc := newTestStripe(t, mux, billing.BreakerSettings{})

	sub, err := sc.UpdateSubscriptionPrice(context.Background(), billing.SubscriptionUpdate{
		SubscriptionID:    "sub_1",
		ItemID:            "si_1",
		PriceID:           "price_starter",
		ProrationBehavior: billing.ProrationAlwaysInvoice,
		Metadata:          map[string]string{"businessId": "biz_1", "plan": "starter"},
	})
	require.NoError(t, err)
	assert.Equal(t, "price_starter", sub.PriceID)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, time.Unix(1760000000, 0), sub.PeriodStart)
}

func TestStripe_CreateRefundUsesIdempotencyKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refund-key-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
		assert.Empty(t, r.PostForm.Get("charge"))
		assert.Equal(t, "2500", r.PostForm.Get("amount"))
		assert.Equal(t, "sub_1", r.PostForm.Get("metadata[subscription_id]"))

		writeStripeJSON(w, http.StatusOK, map[string]any{"id": "re_1", "object": "refund", "amount": 2500})
	})
	sc := newTestStripe(t, mux, billing.BreakerSettings{})

	refund, err := sc.CreateRefund(context.Background(), billing.RefundRequest{
		PaymentIntentID: "pi_1",
		ChargeID:        "ch_1",
		Amount:          2500,
		Metadata:        map[string]string{"subscription_id": "sub_1"},
		IdempotencyKey:  "refund-key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, &billing.Refund{ID: "re_1", Amount: 2500}, refund)
}

func TestStripe_LatestCustomerPaymentSkipsUnsucceeded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		writeStripeJSON(w, http.StatusOK, map[string]any{
			"object":   "list",
			"url":      "/v1/payment_intents",
			"has_more": false,
			"data": []map[string]any{
				{"id": "pi_failed", "object": "payment_intent", "status": "requires_payment_method"},
				{
					"id":              "pi_ok",
					"object":          "payment_intent",
					"status":          "succeeded",
					"amount_received": 7900,
					"latest_charge":   map[string]any{"id": "ch_ok", "object": "charge", "amount_refunded": 900},
				},
			},
		})
	})
	sc := newTestStripe(t, mux, billing.BreakerSettings{})

	payment, err := sc.LatestCustomerPayment(context.Background(), "cus_1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, "pi_ok", payment.PaymentIntentID)
	assert.Equal(t, "ch_ok", payment.ChargeID)
	assert.Equal(t, int64(7000), payment.Refundable())
}

func TestSubscriptionFromEvent(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"customer": "cus_1",
			"status": "past_due",
			"cancel_at_period_end": true,
			"billing_cycle_anchor": 1759000000,
			"latest_invoice": "in_1",
			"items": {"object": "list", "data": [{
				"id": "si_1",
				"object": "subscription_item",
				"price": {"id": "price_business", "object": "price"}
			}]}
		}}
	}`)
	var event stripe.Event
	require.NoError(t, json.Unmarshal(raw, &event))

	sub, err := billing.SubscriptionFromEvent(&event)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "past_due", sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "in_1", sub.LatestInvoiceID)
	assert.Equal(t, "price_business", sub.PriceID)
	assert.Equal(t, time.Unix(1759000000, 0), sub.BillingAnchor)
	assert.True(t, sub.PeriodStart.IsZero())
}

func TestPayment_Refundable(t *testing.T) {
	tests := []struct {
		name     string
		payment  billing.Payment
		expected int64
	}{
		{name: "untouched", payment: billing.Payment{Amount: 7900}, expected: 7900},
		{name: "partially refunded", payment: billing.Payment{Amount: 7900, AmountRefunded: 2500}, expected: 5400},
		{name: "fully refunded", payment: billing.Payment{Amount: 7900, AmountRefunded: 7900}, expected: 0},
		{name: "over refunded", payment: billing.Payment{Amount: 100, AmountRefunded: 200}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.payment.Refundable())
		})
	}
}
