package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/blagoySimandov/salonsuite/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreRepository stores businesses as documents in a single collection.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreRepository(ctx context.Context, projectID, collection string) (*FirestoreRepository, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreRepository{client: client, collection: collection}, nil
}

func (r *FirestoreRepository) Close() error {
	return r.client.Close()
}

func (r *FirestoreRepository) GetByID(ctx context.Context, businessID string) (*models.Business, error) {
	snap, err := r.client.Collection(r.collection).Doc(businessID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get business %s: %w", businessID, err)
	}
	return decode(snap)
}

func (r *FirestoreRepository) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.Business, error) {
	iter := r.client.Collection(r.collection).
		Where("stripeCustomerId", "==", stripeCustomerID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query business by customer %s: %w", stripeCustomerID, err)
	}
	return decode(snap)
}

func (r *FirestoreRepository) UpdateSubscription(ctx context.Context, businessID string, mirror *models.SubscriptionMirror) error {
	_, err := r.client.Collection(r.collection).Doc(businessID).Update(ctx, []firestore.Update{
		{Path: "subscription", Value: mirror},
		{Path: "updatedAt", Value: time.Now()},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func decode(snap *firestore.DocumentSnapshot) (*models.Business, error) {
	var b models.Business
	if err := snap.DataTo(&b); err != nil {
		return nil, fmt.Errorf("failed to decode business %s: %w", snap.Ref.ID, err)
	}
	b.ID = snap.Ref.ID
	return &b, nil
}

var _ Repository = (*FirestoreRepository)(nil)
