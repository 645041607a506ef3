package business

import (
	"context"
	"errors"

	"github.com/blagoySimandov/salonsuite/internal/models"
)

var ErrNotFound = errors.New("business not found")

// Repository is the document store keyed by business id.
type Repository interface {
	GetByID(ctx context.Context, businessID string) (*models.Business, error)
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.Business, error)
	UpdateSubscription(ctx context.Context, businessID string, mirror *models.SubscriptionMirror) error
}
