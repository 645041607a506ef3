package api

import (
	"net/http"

	"github.com/blagoySimandov/salonsuite/internal/metrics"
	"github.com/gorilla/mux"
)

func SetupRoutes(subHandler *SubscriptionHandler, webhookHandler *WebhookHandler, m *metrics.Metrics, allowedOrigin string) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(CORSMiddleware(allowedOrigin))
	api.Use(WideEventMiddleware(m))
	api.Use(RecoveryMiddleware)

	api.HandleFunc("/plans", subHandler.ListPlans).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/subscriptions/update", subHandler.UpdateSubscription).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/subscriptions/cancel", subHandler.CancelSubscription).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/subscriptions/{businessID}", subHandler.GetSubscription).Methods(http.MethodGet, http.MethodOptions)

	// Stripe signs the raw body; no CORS preflight for server-to-server calls.
	api.HandleFunc("/stripe/webhook", webhookHandler.HandleWebhook).Methods(http.MethodPost)

	return r
}
