package business

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/models"
	"github.com/uptrace/bun"
)

type PostgresRepository struct {
	db *bun.DB
}

func NewPostgresRepository(db *bun.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, businessID string) (*models.Business, error) {
	businessDB := new(models.BusinessDB)
	err := r.db.NewSelect().
		Model(businessDB).
		Where("id = ?", businessID).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return businessDB.ToBusiness(), nil
}

func (r *PostgresRepository) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.Business, error) {
	businessDB := new(models.BusinessDB)
	err := r.db.NewSelect().
		Model(businessDB).
		Where("stripe_customer_id = ?", stripeCustomerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return businessDB.ToBusiness(), nil
}

func (r *PostgresRepository) UpdateSubscription(ctx context.Context, businessID string, mirror *models.SubscriptionMirror) error {
	data, err := json.Marshal(mirror)
	if err != nil {
		return fmt.Errorf("failed to encode subscription mirror: %w", err)
	}

	res, err := r.db.NewUpdate().
		Model((*models.BusinessDB)(nil)).
		Set("subscription = ?", string(data)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", businessID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

var _ Repository = (*PostgresRepository)(nil)
