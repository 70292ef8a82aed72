package repository

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/armiapp/armi/internal/model"
)

type SubscriptionRepository interface {
	Create(sub *model.Subscription) error
	ByUserID(userID string) (*model.Subscription, error)
	ByProviderSubscriptionID(providerSubID string) (*model.Subscription, error)
	ByProviderCustomerID(providerCustomerID string) (*model.Subscription, error)
	Update(sub *model.Subscription) error
}

type subscriptionRepository struct {
	db *sqlx.DB
}

func NewSubscriptionRepository(db *sqlx.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(sub *model.Subscription) error {
	_, err := r.db.NamedExec(`
		INSERT INTO subscriptions (
			id, user_id, plan_id, status, provider,
			provider_customer_id, provider_subscription_id,
			current_period_end, amount, currency, interval,
			created_at, updated_at
		) VALUES (
			:id, :user_id, :plan_id, :status, :provider,
			:provider_customer_id, :provider_subscription_id,
			:current_period_end, :amount, :currency, :interval,
			:created_at, :updated_at
		)
	`, sub)
	return err
}

func (r *subscriptionRepository) ByUserID(userID string) (*model.Subscription, error) {
	return r.by("user_id", userID)
}

func (r *subscriptionRepository) ByProviderSubscriptionID(providerSubID string) (*model.Subscription, error) {
	return r.by("provider_subscription_id", providerSubID)
}

func (r *subscriptionRepository) ByProviderCustomerID(providerCustomerID string) (*model.Subscription, error) {
	return r.by("provider_customer_id", providerCustomerID)
}

// by is only called with the fixed column names above.
func (r *subscriptionRepository) by(column, value string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.Get(sub, `SELECT * FROM subscriptions WHERE `+column+` = $1`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *subscriptionRepository) Update(sub *model.Subscription) error {
	result, err := r.db.NamedExec(`
		UPDATE subscriptions
		SET plan_id = :plan_id,
		    status = :status,
		    provider = :provider,
		    provider_customer_id = :provider_customer_id,
		    provider_subscription_id = :provider_subscription_id,
		    current_period_end = :current_period_end,
		    amount = :amount,
		    currency = :currency,
		    interval = :interval,
		    updated_at = :updated_at
		WHERE id = :id
	`, sub)
	if err != nil {
		return err
	}
	return expectRows(result, ErrSubscriptionNotFound)
}
