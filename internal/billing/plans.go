package billing

import "github.com/shopspring/decimal"

const (
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanBusiness     = "business"
)

// Plan defines a subscription plan. Price is in whole units of the billing currency.
type Plan struct {
	ID          string
	DisplayName string
	Price       int64
	Features    []string
	PriceID     string // configured Stripe price, may be empty or stale
}

// Amount returns the plan price as a decimal in major currency units.
func (p *Plan) Amount() decimal.Decimal {
	return decimal.NewFromInt(p.Price)
}

// MinorAmount returns the plan price in the smallest currency unit.
func (p *Plan) MinorAmount() int64 {
	return p.Price * 100
}

// ProductName is the Stripe product name used when a price has to be created.
func (p *Plan) ProductName() string {
	return "SalonSuite " + p.DisplayName
}

// PlanOrder defines the display ordering of plans.
var PlanOrder = []string{PlanStarter, PlanProfessional, PlanBusiness}

func defaultPlans() map[string]*Plan {
	return map[string]*Plan{
		PlanStarter: {
			ID:          PlanStarter,
			DisplayName: "Starter",
			Price:       29,
			Features:    []string{"1 location", "Up to 3 staff", "Online booking", "Email reminders"},
		},
		PlanProfessional: {
			ID:          PlanProfessional,
			DisplayName: "Professional",
			Price:       79,
			Features:    []string{"Up to 3 locations", "Up to 15 staff", "Loyalty programs", "Gift vouchers", "SMS reminders"},
		},
		PlanBusiness: {
			ID:          PlanBusiness,
			DisplayName: "Business",
			Price:       149,
			Features:    []string{"Unlimited locations", "Unlimited staff", "Advanced reporting", "Priority support"},
		},
	}
}

// Catalog is the static set of plans with their configured price references.
type Catalog struct {
	plans map[string]*Plan
}

// NewCatalog builds the plan catalog, attaching configured price ids keyed by plan id.
func NewCatalog(priceIDs map[string]string) *Catalog {
	plans := defaultPlans()
	for id, priceID := range priceIDs {
		if p, ok := plans[id]; ok {
			p.PriceID = priceID
		}
	}
	return &Catalog{plans: plans}
}

// Get returns a plan by its id.
func (c *Catalog) Get(id string) (*Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// All returns the plans in display order.
func (c *Catalog) All() []*Plan {
	plans := make([]*Plan, 0, len(PlanOrder))
	for _, id := range PlanOrder {
		plans = append(plans, c.plans[id])
	}
	return plans
}

// ByPriceID finds the plan whose configured price id matches.
func (c *Catalog) ByPriceID(priceID string) (*Plan, bool) {
	if priceID == "" {
		return nil, false
	}
	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return nil, false
}
