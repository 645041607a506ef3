package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/blagoySimandov/salonsuite/internal/logger"
	"github.com/blagoySimandov/salonsuite/internal/logging"
	"github.com/blagoySimandov/salonsuite/internal/subscription"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("missing required fields: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// writeServiceError maps workflow errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, failure string) {
	logging.EnrichError(r.Context(), err, failure)

	switch {
	case errors.Is(err, subscription.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, "Invalid plan", "")
	case errors.Is(err, subscription.ErrAlreadyOnPlan):
		writeError(w, http.StatusBadRequest, "Business is already on this plan", "")
	case errors.Is(err, subscription.ErrBusinessNotFound):
		writeError(w, http.StatusNotFound, "Business not found", "")
	case errors.Is(err, subscription.ErrNoBillingCustomer):
		writeError(w, http.StatusNotFound, "No billing customer found for this business. Please create a subscription first.", "")
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		writeError(w, http.StatusNotFound, "No active subscription found. Please create a subscription first.", "")
	case errors.Is(err, subscription.ErrChangeInProgress):
		writeError(w, http.StatusConflict, "A subscription change is already in progress for this business", "")
	default:
		logger.Log.Error(failure, "error", err, "trace_id", logging.GetTraceID(r.Context()))
		writeError(w, http.StatusInternalServerError, failure, err.Error())
	}
}
