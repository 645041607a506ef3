package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/lease"
	"github.com/blagoySimandov/salonsuite/internal/logger"
	"github.com/blagoySimandov/salonsuite/internal/logging"
	"github.com/blagoySimandov/salonsuite/internal/metrics"
	"github.com/blagoySimandov/salonsuite/internal/subscription"
	"github.com/stripe/stripe-go/v84"
)

const maxWebhookBodyBytes = 1 << 20

const (
	webhookProcessed  = "processed"
	webhookIgnored    = "ignored"
	webhookDuplicate  = "duplicate"
	webhookInFlight   = "processing"
	webhookFailed     = "failed"
	webhookBadRequest = "rejected"
)

type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error)
}

// SubscriptionReconciler applies provider events to the business mirror.
type SubscriptionReconciler interface {
	SubscriptionChanged(ctx context.Context, sub *billing.Subscription) error
	SubscriptionDeleted(ctx context.Context, sub *billing.Subscription) error
	InvoiceSettled(ctx context.Context, subscriptionID string, paymentFailed bool) error
}

type WebhookHandler struct {
	verifier   WebhookVerifier
	reconciler SubscriptionReconciler
	dedupe     lease.Deduper
	metrics    *metrics.Metrics
}

func NewWebhookHandler(verifier WebhookVerifier, reconciler SubscriptionReconciler, dedupe lease.Deduper, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, reconciler: reconciler, dedupe: dedupe, metrics: m}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		logging.EnrichError(ctx, err, "webhook_read")
		h.metrics.RecordWebhook("unknown", webhookBadRequest)
		writeError(w, http.StatusBadRequest, "Failed to read body", "")
		return
	}

	event, err := h.verifier.VerifyWebhookSignature(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logging.EnrichError(ctx, err, "webhook_signature")
		h.metrics.RecordWebhook("unknown", webhookBadRequest)
		writeError(w, http.StatusUnauthorized, "Invalid signature", "")
		return
	}
	eventType := string(event.Type)
	logging.EnrichWebhook(ctx, event.ID, eventType)

	state, err := h.dedupe.Claim(ctx, event.ID)
	if err != nil {
		logging.EnrichError(ctx, err, "webhook_claim")
		h.metrics.RecordWebhook(eventType, webhookFailed)
		writeError(w, http.StatusInternalServerError, "Failed to claim event", err.Error())
		return
	}
	switch state {
	case lease.ClaimInFlight:
		h.metrics.RecordWebhook(eventType, webhookInFlight)
		writeJSON(w, http.StatusConflict, webhookResponse{Received: true, Status: webhookInFlight})
		return
	case lease.ClaimDone:
		h.metrics.RecordWebhook(eventType, webhookDuplicate)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: webhookDuplicate})
		return
	}

	status, err := h.dispatch(ctx, event)
	if errors.Is(err, subscription.ErrBusinessNotFound) {
		logger.Log.Warn("webhook for unknown business acknowledged",
			"event_id", event.ID,
			"event_type", eventType,
		)
		status, err = webhookIgnored, nil
	}
	if err != nil {
		if abandonErr := h.dedupe.Abandon(context.WithoutCancel(ctx), event.ID); abandonErr != nil {
			logger.Log.Error("failed to release webhook claim", "event_id", event.ID, "error", abandonErr)
		}
		logging.EnrichError(ctx, err, "webhook_"+eventType)
		h.metrics.RecordWebhook(eventType, webhookFailed)
		writeError(w, http.StatusInternalServerError, "Webhook handling failed", err.Error())
		return
	}

	if err := h.dedupe.Complete(context.WithoutCancel(ctx), event.ID); err != nil {
		logger.Log.Error("failed to mark webhook event done", "event_id", event.ID, "error", err)
	}
	h.metrics.RecordWebhook(eventType, status)
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: status})
}

func (h *WebhookHandler) dispatch(ctx context.Context, event *stripe.Event) (string, error) {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		sub, err := billing.SubscriptionFromEvent(event)
		if err != nil {
			return "", err
		}
		return webhookProcessed, h.reconciler.SubscriptionChanged(ctx, sub)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		sub, err := billing.SubscriptionFromEvent(event)
		if err != nil {
			return "", err
		}
		return webhookProcessed, h.reconciler.SubscriptionDeleted(ctx, sub)

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		invoice, err := parseEventData[invoiceEvent](event)
		if err != nil {
			return "", fmt.Errorf("failed to parse invoice: %w", err)
		}
		subscriptionID := invoice.subscriptionID()
		if subscriptionID == "" {
			return webhookIgnored, nil
		}
		failed := event.Type == stripe.EventTypeInvoicePaymentFailed
		return webhookProcessed, h.reconciler.InvoiceSettled(ctx, subscriptionID, failed)
	}

	return webhookIgnored, nil
}

func parseEventData[T any](event *stripe.Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

type invoiceEvent struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID reads the subscription from the legacy field or from the invoice
// parent used by newer API versions.
func (e *invoiceEvent) subscriptionID() string {
	if e.Subscription != "" {
		return e.Subscription
	}
	if e.Parent != nil && e.Parent.SubscriptionDetails != nil {
		return e.Parent.SubscriptionDetails.Subscription
	}
	return ""
}
