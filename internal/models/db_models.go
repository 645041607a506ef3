package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BusinessDB struct {
	bun.BaseModel `bun:"table:businesses,alias:b"`

	ID               string              `bun:"id,pk" json:"id"`
	Name             string              `bun:"name,notnull" json:"name"`
	StripeCustomerID *string             `bun:"stripe_customer_id" json:"stripe_customer_id"`
	Subscription     *SubscriptionMirror `bun:"subscription,type:jsonb" json:"subscription,omitempty"`
	CreatedAt        time.Time           `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time           `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

func (b *BusinessDB) ToBusiness() *Business {
	out := &Business{
		ID:           b.ID,
		Name:         b.Name,
		Subscription: b.Subscription,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if b.StripeCustomerID != nil {
		out.StripeCustomerID = *b.StripeCustomerID
	}
	return out
}
