package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/logger"
	"github.com/blagoySimandov/salonsuite/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const priceCacheSize = 32

// PriceResolver maps plans to usable Stripe price ids, creating the product and
// price when the configured one does not exist. Resolved ids live for the process.
type PriceResolver struct {
	provider billing.Provider
	catalog  *billing.Catalog
	currency string
	metrics  *metrics.Metrics

	resolved *lru.Cache[string, string]
	group    singleflight.Group
}

func NewPriceResolver(provider billing.Provider, catalog *billing.Catalog, currency string, m *metrics.Metrics) (*PriceResolver, error) {
	cache, err := lru.New[string, string](priceCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}
	return &PriceResolver{
		provider: provider,
		catalog:  catalog,
		currency: currency,
		metrics:  m,
		resolved: cache,
	}, nil
}

// KnownPriceIDs lists the ids that stand for the plan without calling the provider.
func (r *PriceResolver) KnownPriceIDs(plan *billing.Plan) []string {
	var ids []string
	if plan.PriceID != "" {
		ids = append(ids, plan.PriceID)
	}
	if id, ok := r.resolved.Peek(plan.ID); ok && id != plan.PriceID {
		ids = append(ids, id)
	}
	return ids
}

// PlanForPrice finds the plan a price id belongs to, including lazily created ids.
func (r *PriceResolver) PlanForPrice(priceID string) (*billing.Plan, bool) {
	if p, ok := r.catalog.ByPriceID(priceID); ok {
		return p, true
	}
	for _, p := range r.catalog.All() {
		if id, ok := r.resolved.Peek(p.ID); ok && id == priceID {
			return p, true
		}
	}
	return nil, false
}

// Resolve returns the price id to use for the plan.
func (r *PriceResolver) Resolve(ctx context.Context, plan *billing.Plan) (string, error) {
	if id, ok := r.resolved.Get(plan.ID); ok {
		return id, nil
	}

	v, err, _ := r.group.Do(plan.ID, func() (any, error) {
		if id, ok := r.resolved.Get(plan.ID); ok {
			return id, nil
		}
		id, err := r.lookupOrCreate(ctx, plan)
		if err != nil {
			return "", err
		}
		r.resolved.Add(plan.ID, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *PriceResolver) lookupOrCreate(ctx context.Context, plan *billing.Plan) (string, error) {
	if plan.PriceID != "" {
		_, err := r.provider.GetPrice(ctx, plan.PriceID)
		if err == nil {
			return plan.PriceID, nil
		}
		if !errors.Is(err, billing.ErrNotFound) {
			return "", fmt.Errorf("failed to look up price %s for plan %s: %w", plan.PriceID, plan.ID, err)
		}
		logger.Log.Warn("configured price not found, creating one",
			"plan", plan.ID,
			"price_id", plan.PriceID,
		)
	}
	return r.create(ctx, plan)
}

func (r *PriceResolver) create(ctx context.Context, plan *billing.Plan) (string, error) {
	productID, err := r.provider.FindProductByName(ctx, plan.ProductName())
	if err != nil {
		return "", fmt.Errorf("failed to find product for plan %s: %w", plan.ID, err)
	}

	if productID == "" {
		productID, err = r.provider.CreateProduct(ctx,
			plan.ProductName(),
			fmt.Sprintf("SalonSuite %s plan, billed monthly", plan.DisplayName),
			map[string]string{"plan": plan.ID},
		)
		if err != nil {
			return "", fmt.Errorf("failed to create product for plan %s: %w", plan.ID, err)
		}
	}

	price, err := r.provider.CreateMonthlyPrice(ctx, billing.PriceCreate{
		ProductID:  productID,
		UnitAmount: plan.MinorAmount(),
		Currency:   r.currency,
		Metadata:   map[string]string{"plan": plan.ID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create price for plan %s: %w", plan.ID, err)
	}

	r.metrics.RecordPriceCreated(plan.ID)
	logger.Log.Info("created price for plan",
		"plan", plan.ID,
		"product_id", productID,
		"price_id", price.ID,
	)
	return price.ID, nil
}
