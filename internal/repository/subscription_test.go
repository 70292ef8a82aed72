package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armiapp/armi/internal/model"
)

func TestSubscriptionRepository_Lookups(t *testing.T) {
	database := newTestDB(t)
	users := NewUserRepository(database)
	subs := NewSubscriptionRepository(database)

	user := createTestUser(t, users, "sub@example.com")
	now := time.Now()
	sub := &model.Subscription{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		PlanID:    model.SubscriptionPlanFree,
		Status:    model.SubscriptionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, subs.Create(sub))

	customerID := "cus_123"
	providerSubID := "sub_123"
	sub.PlanID = model.SubscriptionPlanPro
	sub.Provider = model.ProviderStripe
	sub.ProviderCustomerID = &customerID
	sub.ProviderSubscriptionID = &providerSubID
	require.NoError(t, subs.Update(sub))

	byCustomer, err := subs.ByProviderCustomerID(customerID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byCustomer.UserID)

	bySub, err := subs.ByProviderSubscriptionID(providerSubID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPlanPro, bySub.PlanID)
	assert.True(t, bySub.IsPaid())

	_, err = subs.ByUserID("missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}
