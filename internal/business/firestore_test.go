package business

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the Firestore emulator only.
func setupFirestore(t *testing.T) *FirestoreRepository {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	repo, err := NewFirestoreRepository(context.Background(), "salonsuite-test", "businesses-"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedBusiness(t *testing.T, repo *FirestoreRepository, b *models.Business) {
	t.Helper()
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	_, err := repo.client.Collection(repo.collection).Doc(b.ID).Create(context.Background(), b)
	require.NoError(t, err)
}

func TestFirestoreRepository(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	seedBusiness(t, repo, &models.Business{ID: "biz_1", Name: "Glow Studio", StripeCustomerID: "cus_1"})

	b, err := repo.GetByID(ctx, "biz_1")
	require.NoError(t, err)
	assert.Equal(t, "biz_1", b.ID)
	assert.Equal(t, "Glow Studio", b.Name)
	assert.Nil(t, b.Subscription)

	b, err = repo.GetByStripeCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "biz_1", b.ID)

	periodEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateSubscription(ctx, "biz_1", &models.SubscriptionMirror{
		ID:               "sub_1",
		Plan:             "starter",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		LastRefundID:     "re_1",
		LastRefundAmount: 25,
	}))

	b, err = repo.GetByID(ctx, "biz_1")
	require.NoError(t, err)
	require.NotNil(t, b.Subscription)
	assert.Equal(t, "starter", b.Subscription.Plan)
	assert.Equal(t, 25.0, b.Subscription.LastRefundAmount)
	require.NotNil(t, b.Subscription.CurrentPeriodEnd)
	assert.True(t, periodEnd.Equal(*b.Subscription.CurrentPeriodEnd))
}

func TestFirestoreRepository_NotFound(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "biz_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByStripeCustomerID(ctx, "cus_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.UpdateSubscription(ctx, "biz_missing", &models.SubscriptionMirror{ID: "sub_1"})
	assert.ErrorIs(t, err, ErrNotFound)
}
