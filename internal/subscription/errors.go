package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrBusinessNotFound     = errors.New("business not found")
	ErrNoBillingCustomer    = errors.New("no billing customer for business")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrAlreadyOnPlan        = errors.New("already on this plan")
	ErrChangeInProgress     = errors.New("plan change already in progress")
)

// ProviderError is a failed billing-provider or store call that aborts the flow.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerError(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}
