package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/logger"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v84"
)

// BreakerSettings configures the circuit breaker in front of the Stripe API.
type BreakerSettings struct {
	FailureThreshold uint32
	Timeout          time.Duration
	OnStateChange    func(from, to gobreaker.State)
}

func newBreaker(settings BreakerSettings) *gobreaker.CircuitBreaker[any] {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Requests Stripe rejected are the caller's problem, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if settings.OnStateChange != nil {
				settings.OnStateChange(from, to)
			}
		},
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		return zero, mapError(err)
	}
	return res.(T), nil
}

func isClientError(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusBadRequest && stripeErr.HTTPStatusCode < http.StatusInternalServerError
	}
	return false
}

func mapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return errors.Join(ErrNotFound, err)
		}
	}
	return err
}
