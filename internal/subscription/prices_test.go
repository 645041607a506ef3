package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingPriceProvider() *mockProvider {
	return &mockProvider{
		getPriceFunc: func(context.Context, string) (*billing.Price, error) {
			return nil, billing.ErrNotFound
		},
		findProductByNameFunc: func(_ context.Context, name string) (string, error) {
			if name == "SalonSuite Business" {
				return "prod_existing", nil
			}
			return "", nil
		},
		createProductFunc: func(context.Context, string, string, map[string]string) (string, error) {
			return "prod_new", nil
		},
		createMonthlyPriceFunc: func(_ context.Context, p billing.PriceCreate) (*billing.Price, error) {
			// widen the window for concurrent callers
			time.Sleep(10 * time.Millisecond)
			return &billing.Price{ID: "price_" + p.ProductID, ProductID: p.ProductID, UnitAmount: p.UnitAmount}, nil
		},
	}
}

func TestPriceResolver_ConfiguredPriceExists(t *testing.T) {
	provider := &mockProvider{}
	resolver, err := NewPriceResolver(provider, billing.NewCatalog(testPriceIDs), "gbp", nil)
	require.NoError(t, err)

	plan, _ := resolver.catalog.Get(billing.PlanStarter)
	id, err := resolver.Resolve(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "price_starter", id)
	assert.Equal(t, int32(0), provider.mutations())
}

func TestPriceResolver_CreatesOncePerPlan(t *testing.T) {
	provider := missingPriceProvider()
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	resolver, err := NewPriceResolver(provider, billing.NewCatalog(testPriceIDs), "gbp", m)
	require.NoError(t, err)

	plan, _ := resolver.catalog.Get(billing.PlanProfessional)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := resolver.Resolve(context.Background(), plan)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "price_prod_new", id)
	}
	again, err := resolver.Resolve(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "price_prod_new", again)

	assert.Equal(t, int32(1), provider.productsMade.Load())
	assert.Equal(t, int32(1), provider.pricesMade.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PricesCreatedTotal.WithLabelValues(billing.PlanProfessional)))

	assert.Equal(t, []string{"price_professional", "price_prod_new"}, resolver.KnownPriceIDs(plan))
	found, ok := resolver.PlanForPrice("price_prod_new")
	require.True(t, ok)
	assert.Equal(t, billing.PlanProfessional, found.ID)
}

func TestPriceResolver_ReusesProductByName(t *testing.T) {
	provider := missingPriceProvider()
	resolver, err := NewPriceResolver(provider, billing.NewCatalog(testPriceIDs), "gbp", nil)
	require.NoError(t, err)

	plan, _ := resolver.catalog.Get(billing.PlanBusiness)
	id, err := resolver.Resolve(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, "price_prod_existing", id)
	assert.Equal(t, int32(0), provider.productsMade.Load())
	assert.Equal(t, int32(1), provider.pricesMade.Load())
}

func TestPriceResolver_UnconfiguredPlanIsCreated(t *testing.T) {
	provider := missingPriceProvider()
	resolver, err := NewPriceResolver(provider, billing.NewCatalog(nil), "gbp", nil)
	require.NoError(t, err)

	plan, _ := resolver.catalog.Get(billing.PlanStarter)
	id, err := resolver.Resolve(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "price_prod_new", id)
	assert.Equal(t, []string{"price_prod_new"}, resolver.KnownPriceIDs(plan))
}

func TestPriceResolver_LookupErrorDoesNotCreate(t *testing.T) {
	provider := missingPriceProvider()
	provider.getPriceFunc = func(context.Context, string) (*billing.Price, error) {
		return nil, errors.New("connection reset")
	}
	resolver, err := NewPriceResolver(provider, billing.NewCatalog(testPriceIDs), "gbp", nil)
	require.NoError(t, err)

	plan, _ := resolver.catalog.Get(billing.PlanStarter)
	_, err = resolver.Resolve(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, int32(0), provider.mutations())

	// failures are not cached
	provider.getPriceFunc = nil
	id, err := resolver.Resolve(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "price_starter", id)
}
