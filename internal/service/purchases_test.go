package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
)

type fakeProvider struct {
	checkouts  []CheckoutRequest
	restores   []string
	restoreErr error
	onRestore  func(userID string)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateCheckoutURL(_ context.Context, req CheckoutRequest) (string, error) {
	f.checkouts = append(f.checkouts, req)
	return "https://checkout.test/" + req.UserID, nil
}

func (f *fakeProvider) CustomerPortalURL(_ context.Context, userID string) (string, error) {
	return "https://portal.test/" + userID, nil
}

func (f *fakeProvider) HandleWebhook(context.Context, []byte, http.Header) error { return nil }

func (f *fakeProvider) Restore(_ context.Context, userID string) error {
	f.restores = append(f.restores, userID)
	if f.onRestore != nil {
		f.onRestore(userID)
	}
	return f.restoreErr
}

var testOffering = model.Offering{
	ID: "default",
	Packages: []model.Package{
		{ID: "pro_monthly", PlanID: model.SubscriptionPlanPro, Interval: model.SubscriptionIntervalMonthly, ProductID: "p_m"},
	},
}

func newPurchaseFixture(t *testing.T) (*PurchaseService, *fakeProvider, *SubscriptionService, *model.User) {
	t.Helper()

	database := newTestDB(t)
	user := &model.User{ID: uuid.New().String(), Email: "buyer@example.com", CreatedAt: time.Now()}
	require.NoError(t, repository.NewUserRepository(database).Create(user))

	subs := NewSubscriptionService(repository.NewSubscriptionRepository(database))
	provider := &fakeProvider{}
	return NewPurchaseService(provider, subs, []string{"ARMi Pro"}, testOffering), provider, subs, user
}

func makePro(t *testing.T, subs *SubscriptionService, userID, status string, periodEnd time.Time) {
	t.Helper()

	sub, err := subs.EnsureSubscription(userID)
	require.NoError(t, err)
	sub.PlanID = model.SubscriptionPlanPro
	sub.Status = status
	sub.CurrentPeriodEnd = &periodEnd
	require.NoError(t, subs.UpdateSubscription(sub))
}

func TestPurchaseService_NotConfigured(t *testing.T) {
	ctx := context.Background()
	svc := NewPurchaseService(nil, nil, nil, model.Offering{})

	assert.False(t, svc.Configured())
	assert.ErrorIs(t, svc.LogIn(ctx, "u"), ErrPurchasesNotConfigured)

	_, err := svc.ActiveEntitlements(ctx, "u")
	assert.ErrorIs(t, err, ErrPurchasesNotConfigured)

	_, err = svc.Purchase(ctx, &model.User{ID: "u"}, "pro_monthly")
	var purchaseErr *PurchaseError
	require.ErrorAs(t, err, &purchaseErr)
	assert.Equal(t, "purchase", purchaseErr.Op)
	assert.ErrorIs(t, err, ErrPurchasesNotConfigured)

	_, err = svc.RestorePurchases(ctx, "u")
	assert.ErrorIs(t, err, ErrPurchasesNotConfigured)
}

func TestPurchaseService_ActiveEntitlements(t *testing.T) {
	ctx := context.Background()
	svc, _, subs, user := newPurchaseFixture(t)

	ids, err := svc.ActiveEntitlements(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, svc.LogIn(ctx, user.ID))
	ids, err = svc.ActiveEntitlements(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	makePro(t, subs, user.ID, model.SubscriptionStatusActive, time.Now().Add(time.Hour))
	ids, err = svc.ActiveEntitlements(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{model.EntitlementIDPro, "ARMi Pro"}, ids)

	makePro(t, subs, user.ID, model.SubscriptionStatusCancelled, time.Now().Add(-time.Minute))
	ids, err = svc.ActiveEntitlements(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPurchaseService_Purchase(t *testing.T) {
	ctx := context.Background()
	svc, provider, subs, user := newPurchaseFixture(t)

	_, err := svc.Purchase(ctx, user, "lifetime")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	url, err := svc.Purchase(ctx, user, "pro_monthly")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/"+user.ID, url)
	require.Len(t, provider.checkouts, 1)
	assert.Equal(t, CheckoutRequest{
		UserID:        user.ID,
		PlanID:        model.SubscriptionPlanPro,
		Interval:      model.SubscriptionIntervalMonthly,
		CustomerEmail: user.Email,
	}, provider.checkouts[0])

	makePro(t, subs, user.ID, model.SubscriptionStatusActive, time.Now().Add(time.Hour))
	_, err = svc.Purchase(ctx, user, "pro_monthly")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestPurchaseService_RestorePurchases(t *testing.T) {
	ctx := context.Background()
	svc, provider, subs, user := newPurchaseFixture(t)

	provider.onRestore = func(userID string) {
		makePro(t, subs, userID, model.SubscriptionStatusActive, time.Now().Add(time.Hour))
	}

	info, err := svc.RestorePurchases(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{user.ID}, provider.restores)
	assert.Contains(t, info.ActiveEntitlements, model.EntitlementIDPro)
	require.NotNil(t, info.Subscription)
	assert.Equal(t, model.SubscriptionPlanPro, info.Subscription.PlanID)

	provider.onRestore = nil
	provider.restoreErr = errors.New("provider down")
	_, err = svc.RestorePurchases(ctx, user.ID)
	var purchaseErr *PurchaseError
	require.ErrorAs(t, err, &purchaseErr)
	assert.Equal(t, "restore", purchaseErr.Op)
}
