package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/armiapp/armi/internal/config"
	"github.com/armiapp/armi/internal/db"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
	"github.com/armiapp/armi/internal/service"
)

const (
	testStripeSecret = "whsec_test"
	testPolarSecret  = "polar-webhook-secret"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                   "development",
		AppURL:                   "https://armi.test",
		OfferingID:               "default",
		StripeSecretKey:          "sk_test",
		StripeWebhookSecret:      testStripeSecret,
		StripePriceIDProMonthly:  "price_month",
		StripePriceIDProYearly:   "price_year",
		PolarAPIKey:              "polar_test",
		PolarWebhookSecret:       testPolarSecret,
		PolarSandboxMode:         true,
		PolarProductIDProMonthly: "prod_month",
		PolarProductIDProYearly:  "prod_year",
	}
}

func newSubscriptions(t *testing.T) (*service.SubscriptionService, string) {
	t.Helper()

	database, err := db.Init("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	user := &model.User{ID: uuid.New().String(), Email: "pro@example.com", CreatedAt: time.Now()}
	require.NoError(t, repository.NewUserRepository(database).Create(user))

	subs := service.NewSubscriptionService(repository.NewSubscriptionRepository(database))
	require.NoError(t, subs.CreateFreeSubscription(user.ID))
	return subs, user.ID
}

func stripeEvent(t *testing.T, eventType string, object any) []byte {
	t.Helper()

	raw, err := json.Marshal(object)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-01-01",
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)
	return payload
}

func signedStripeHeaders(payload []byte) http.Header {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	return headers
}

func stripeSubscriptionJSON(id, customer, status, priceID string, periodEnd int64, cancelAtPeriodEnd bool) map[string]any {
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             customer,
		"status":               status,
		"current_period_end":   periodEnd,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":     "si_1",
				"object": "subscription_item",
				"price": map[string]any{
					"id":          priceID,
					"object":      "price",
					"unit_amount": 499,
					"currency":    "usd",
					"recurring":   map[string]any{"interval": "month"},
				},
			}},
		},
	}
}

func TestStripeWebhook_CheckoutThenSubscription(t *testing.T) {
	ctx := context.Background()
	subs, userID := newSubscriptions(t)
	provider := NewStripeProvider(testConfig(), subs)

	checkout := stripeEvent(t, "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"object":   "checkout.session",
		"customer": "cus_1",
		"metadata": map[string]string{"user_id": userID},
	})
	require.NoError(t, provider.HandleWebhook(ctx, checkout, signedStripeHeaders(checkout)))

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	created := stripeEvent(t, "customer.subscription.created",
		stripeSubscriptionJSON("sub_1", "cus_1", "active", "price_month", periodEnd, false))
	require.NoError(t, provider.HandleWebhook(ctx, created, signedStripeHeaders(created)))

	sub, err := subs.Subscription(userID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPlanPro, sub.PlanID)
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "cus_1", *sub.ProviderCustomerID)
	assert.Equal(t, "sub_1", *sub.ProviderSubscriptionID)
	assert.Equal(t, "$4.99/month", sub.FormatPrice())

	updated := stripeEvent(t, "customer.subscription.updated",
		stripeSubscriptionJSON("sub_1", "cus_1", "active", "price_month", periodEnd, true))
	require.NoError(t, provider.HandleWebhook(ctx, updated, signedStripeHeaders(updated)))

	sub, err = subs.Subscription(userID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusCancelled, sub.Status)
	assert.True(t, sub.HasAccessAt(time.Now()))

	deleted := stripeEvent(t, "customer.subscription.deleted", map[string]any{"id": "sub_1", "object": "subscription"})
	require.NoError(t, provider.HandleWebhook(ctx, deleted, signedStripeHeaders(deleted)))

	sub, err = subs.Subscription(userID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPlanFree, sub.PlanID)
	assert.False(t, sub.HasAccessAt(time.Now()))
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	subs, _ := newSubscriptions(t)
	provider := NewStripeProvider(testConfig(), subs)

	payload := stripeEvent(t, "customer.subscription.deleted", map[string]any{"id": "sub_1"})
	headers := http.Header{}
	headers.Set("Stripe-Signature", "t=1,v1=deadbeef")

	assert.Error(t, provider.HandleWebhook(context.Background(), payload, headers))
}

func TestStripeRestore(t *testing.T) {
	ctx := context.Background()
	subs, userID := newSubscriptions(t)
	provider := NewStripeProvider(testConfig(), subs)

	var listed []string
	provider.listSubscriptions = func(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
		listed = append(listed, customerID)
		return []*stripe.Subscription{
			{ID: "sub_old", Status: stripe.SubscriptionStatusCanceled, CurrentPeriodEnd: time.Now().Add(-time.Hour).Unix()},
			{
				ID:               "sub_live",
				Status:           stripe.SubscriptionStatusActive,
				CurrentPeriodEnd: time.Now().Add(time.Hour).Unix(),
				Customer:         &stripe.Customer{ID: "cus_9"},
				Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
					Price: &stripe.Price{ID: "price_year", UnitAmount: 3999, Currency: "usd", Recurring: &stripe.PriceRecurring{Interval: "year"}},
				}}},
			},
		}, nil
	}

	// No customer yet: nothing to restore and Stripe is not called.
	require.NoError(t, provider.Restore(ctx, userID))
	assert.Empty(t, listed)

	sub, err := subs.Subscription(userID)
	require.NoError(t, err)
	customerID := "cus_9"
	sub.ProviderCustomerID = &customerID
	require.NoError(t, subs.UpdateSubscription(sub))

	require.NoError(t, provider.Restore(ctx, userID))
	assert.Equal(t, []string{"cus_9"}, listed)

	sub, err = subs.Subscription(userID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPlanPro, sub.PlanID)
	assert.Equal(t, "sub_live", *sub.ProviderSubscriptionID)
	assert.Equal(t, model.SubscriptionIntervalYearly, *sub.Interval)
}

func TestPickStripeSubscription(t *testing.T) {
	assert.Nil(t, pickStripeSubscription(nil))

	older := &stripe.Subscription{ID: "a", Status: stripe.SubscriptionStatusActive, CurrentPeriodEnd: 10}
	newer := &stripe.Subscription{ID: "b", Status: stripe.SubscriptionStatusTrialing, CurrentPeriodEnd: 20}
	ended := &stripe.Subscription{ID: "c", Status: stripe.SubscriptionStatusCanceled, CurrentPeriodEnd: 30}

	assert.Equal(t, "b", pickStripeSubscription([]*stripe.Subscription{older, ended, newer}).ID)
	assert.Equal(t, "c", pickStripeSubscription([]*stripe.Subscription{ended}).ID)
}

func signedPolarHeaders(t *testing.T, payload []byte) http.Header {
	t.Helper()

	wh, err := standardwebhooks.NewWebhookRaw([]byte(testPolarSecret))
	require.NoError(t, err)

	msgID := "msg_" + uuid.NewString()
	now := time.Now()
	signature, err := wh.Sign(msgID, now, payload)
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("webhook-id", msgID)
	headers.Set("webhook-timestamp", strconv.FormatInt(now.Unix(), 10))
	headers.Set("webhook-signature", signature)
	return headers
}

func polarEvent(t *testing.T, eventType string, data map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	require.NoError(t, err)
	return payload
}

func TestPolarWebhook_Lifecycle(t *testing.T) {
	ctx := context.Background()
	subs, userID := newSubscriptions(t)
	provider := NewPolarProvider(testConfig(), subs)

	periodEnd := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	created := polarEvent(t, "subscription.created", map[string]any{
		"id":                 "polar_sub_1",
		"customer_id":        "polar_cus_1",
		"product_id":         "prod_year",
		"amount":             3999,
		"currency":           "usd",
		"recurring_interval": "year",
		"status":             "active",
		"current_period_end": periodEnd,
		"metadata":           map[string]string{"user_id": userID, "plan_id": "pro"},
	})
	require.NoError(t, provider.HandleWebhook(ctx, created, signedPolarHeaders(t, created)))

	sub, err := subs.Subscription(userID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPlanPro, sub.PlanID)
	assert.Equal(t, model.ProviderPolar, sub.Provider)
	assert.Equal(t, model.SubscriptionIntervalYearly, *sub.Interval)

	canceled := polarEvent(t, "subscription.canceled", map[string]any{"id": "polar_sub_1"})
	require.NoError(t, provider.HandleWebhook(ctx, canceled, signedPolarHeaders(t, canceled)))

	sub, err = subs.Subscription(userID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusCancelled, sub.Status)
	assert.True(t, sub.HasAccessAt(time.Now()))

	revoked := polarEvent(t, "subscription.revoked", map[string]any{"id": "polar_sub_1"})
	require.NoError(t, provider.HandleWebhook(ctx, revoked, signedPolarHeaders(t, revoked)))

	sub, err = subs.Subscription(userID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPlanFree, sub.PlanID)
}

func TestPolarWebhook_RejectsBadSignature(t *testing.T) {
	subs, _ := newSubscriptions(t)
	provider := NewPolarProvider(testConfig(), subs)

	payload := polarEvent(t, "subscription.revoked", map[string]any{"id": "x"})
	headers := signedPolarHeaders(t, []byte(`{"type":"other"}`))

	assert.Error(t, provider.HandleWebhook(context.Background(), payload, headers))
}

func TestOffering(t *testing.T) {
	cfg := testConfig()
	cfg.PaymentProvider = model.ProviderStripe

	offering := Offering(cfg)
	assert.Equal(t, "default", offering.ID)
	require.Len(t, offering.Packages, 2)
	assert.Equal(t, PackageProMonthly, offering.Packages[0].ID)
	assert.Equal(t, "price_month", offering.Packages[0].ProductID)

	cfg.PaymentProvider = model.ProviderPolar
	cfg.PolarProductIDProYearly = ""
	offering = Offering(cfg)
	require.Len(t, offering.Packages, 1)
	assert.Equal(t, "prod_month", offering.Packages[0].ProductID)
}

func TestNewProvider(t *testing.T) {
	subs, _ := newSubscriptions(t)
	cfg := testConfig()

	provider, err := NewProvider(cfg, subs)
	require.NoError(t, err)
	assert.Nil(t, provider)

	cfg.PaymentProvider = model.ProviderStripe
	provider, err = NewProvider(cfg, subs)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderStripe, provider.Name())

	cfg.PaymentProvider = "paypal"
	_, err = NewProvider(cfg, subs)
	assert.Error(t, err)
}
