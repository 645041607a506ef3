package api

import (
	"context"
	"net/http"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/models"
	"github.com/blagoySimandov/salonsuite/internal/subscription"
	"github.com/gorilla/mux"
)

// PlanChanger is the subscription workflow the handler drives.
type PlanChanger interface {
	ChangePlan(ctx context.Context, businessID, planID string) (*subscription.ChangeResult, error)
	CancelAtPeriodEnd(ctx context.Context, businessID string) (*models.SubscriptionMirror, error)
	Status(ctx context.Context, businessID string) (*models.SubscriptionMirror, error)
}

type SubscriptionHandler struct {
	subscriptions PlanChanger
	catalog       *billing.Catalog
	currency      string
}

func NewSubscriptionHandler(subscriptions PlanChanger, catalog *billing.Catalog, currency string) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, catalog: catalog, currency: currency}
}

type UpdateSubscriptionRequest struct {
	BusinessID string `json:"businessId" validate:"required"`
	PlanID     string `json:"planId" validate:"required"`
}

type CancelSubscriptionRequest struct {
	BusinessID string `json:"businessId" validate:"required"`
}

type SubscriptionSummary struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Plan             string     `json:"plan"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
}

type RefundSummary struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

type UpdateSubscriptionResponse struct {
	Success      bool                `json:"success"`
	Subscription SubscriptionSummary `json:"subscription"`
	Message      string              `json:"message"`
	IsUpgrade    bool                `json:"isUpgrade"`
	IsDowngrade  bool                `json:"isDowngrade"`
	Refund       *RefundSummary      `json:"refund"`
}

type PlanResponse struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    int64    `json:"price"`
	Currency string   `json:"currency"`
	Features []string `json:"features"`
}

func (h *SubscriptionHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubscriptionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	result, err := h.subscriptions.ChangePlan(r.Context(), req.BusinessID, req.PlanID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update subscription")
		return
	}

	resp := UpdateSubscriptionResponse{
		Success: true,
		Subscription: SubscriptionSummary{
			ID:               result.Mirror.ID,
			Status:           result.Mirror.Status,
			Plan:             result.Mirror.Plan,
			CurrentPeriodEnd: result.Mirror.CurrentPeriodEnd,
		},
		Message:     result.Message,
		IsUpgrade:   result.IsUpgrade(),
		IsDowngrade: result.IsDowngrade(),
	}
	if refund, amount, ok := result.IssuedRefund(); ok {
		resp.Refund = &RefundSummary{ID: refund.ID, Amount: amount.InexactFloat64()}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	businessID := mux.Vars(r)["businessID"]

	mirror, err := h.subscriptions.Status(r.Context(), businessID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load subscription")
		return
	}

	writeJSON(w, http.StatusOK, mirror)
}

func (h *SubscriptionHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req CancelSubscriptionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	mirror, err := h.subscriptions.CancelAtPeriodEnd(r.Context(), req.BusinessID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to cancel subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"subscription": mirror,
		"message":      "Your subscription will end at the close of the current billing period.",
	})
}

func (h *SubscriptionHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	all := h.catalog.All()
	plans := make([]PlanResponse, 0, len(all))
	for _, p := range all {
		plans = append(plans, PlanResponse{
			ID:       p.ID,
			Name:     p.DisplayName,
			Price:    p.Price,
			Currency: h.currency,
			Features: p.Features,
		})
	}

	writeJSON(w, http.StatusOK, plans)
}
