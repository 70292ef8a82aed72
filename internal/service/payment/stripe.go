package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/subscription"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/armiapp/armi/internal/config"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/service"
)

type StripeProvider struct {
	cfg                 *config.Config
	subscriptionService *service.SubscriptionService
	// listSubscriptions is swapped in tests.
	listSubscriptions func(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
}

func NewStripeProvider(cfg *config.Config, subscriptionService *service.SubscriptionService) *StripeProvider {
	stripe.Key = cfg.StripeSecretKey

	slog.Info("stripe provider initialized", "app_env", cfg.AppEnv)

	return &StripeProvider{
		cfg:                 cfg,
		subscriptionService: subscriptionService,
		listSubscriptions:   listStripeSubscriptions,
	}
}

func (s *StripeProvider) Name() string {
	return model.ProviderStripe
}

func (s *StripeProvider) CreateCheckoutURL(ctx context.Context, req service.CheckoutRequest) (string, error) {
	sub, err := s.subscriptionService.Subscription(req.UserID)
	if err != nil {
		return "", err
	}

	priceID := s.priceID(req.PlanID, req.Interval)
	if priceID == "" {
		return "", fmt.Errorf("no price configured for plan: %s (%s)", req.PlanID, req.Interval)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(s.cfg.AppURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.cfg.AppURL + "/billing/cancel"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"user_id":         req.UserID,
			"subscription_id": sub.ID,
			"plan_id":         req.PlanID,
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	// Returning customers keep their Stripe customer and payment methods.
	if sub.ProviderCustomerID != nil && *sub.ProviderCustomerID != "" {
		params.Customer = sub.ProviderCustomerID
	} else {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	slog.Info("stripe checkout created", "user_id", req.UserID, "plan_id", req.PlanID, "session_id", sess.ID)
	return sess.URL, nil
}

func (s *StripeProvider) CustomerPortalURL(ctx context.Context, userID string) (string, error) {
	sub, err := s.subscriptionService.Subscription(userID)
	if err != nil {
		return "", err
	}

	if sub.ProviderCustomerID == nil || *sub.ProviderCustomerID == "" {
		return "", service.ErrNoCustomerAccount
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*sub.ProviderCustomerID),
		ReturnURL: stripe.String(s.cfg.AppURL + "/billing"),
	}
	params.Context = ctx

	portalSession, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer portal session: %w", err)
	}

	slog.Info("stripe customer portal session created", "user_id", userID)
	return portalSession.URL, nil
}

// Restore reads the customer's subscriptions from Stripe and applies the
// most relevant one. Users who never checked out have nothing to restore.
func (s *StripeProvider) Restore(ctx context.Context, userID string) error {
	sub, err := s.subscriptionService.Subscription(userID)
	if err != nil {
		return err
	}

	if sub.ProviderCustomerID == nil || *sub.ProviderCustomerID == "" {
		slog.Info("stripe restore skipped, no customer", "user_id", userID)
		return nil
	}

	remote, err := s.listSubscriptions(ctx, *sub.ProviderCustomerID)
	if err != nil {
		return fmt.Errorf("failed to list stripe subscriptions: %w", err)
	}

	best := pickStripeSubscription(remote)
	if best == nil {
		if sub.PlanID != model.SubscriptionPlanFree {
			slog.Info("stripe restore found no subscription, downgrading", "user_id", userID)
			return s.subscriptionService.DowngradeToFree(sub)
		}
		return nil
	}

	s.applySubscription(sub, best)
	err = s.subscriptionService.UpdateSubscription(sub)
	if err != nil {
		return err
	}

	slog.Info("stripe subscription restored", "user_id", userID, "stripe_sub_id", best.ID, "status", sub.Status)
	return nil
}

func listStripeSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var subs []*stripe.Subscription
	iter := subscription.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	return subs, iter.Err()
}

// pickStripeSubscription prefers a live subscription, then the one whose
// period ends last.
func pickStripeSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var best *stripe.Subscription
	for _, candidate := range subs {
		if candidate == nil {
			continue
		}
		if best == nil {
			best = candidate
			continue
		}
		candidateLive, bestLive := isLiveStripeStatus(candidate.Status), isLiveStripeStatus(best.Status)
		if candidateLive != bestLive {
			if candidateLive {
				best = candidate
			}
			continue
		}
		if candidate.CurrentPeriodEnd > best.CurrentPeriodEnd {
			best = candidate
		}
	}
	return best
}

func isLiveStripeStatus(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusActive || status == stripe.SubscriptionStatusTrialing
}

func (s *StripeProvider) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	signature := headers.Get("Stripe-Signature")

	// Stripe API versions are backwards compatible for the fields read here.
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to verify webhook signature: %w", err)
	}

	slog.Info("stripe webhook received", "event_type", event.Type)

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutSessionCompleted(event.Data.Raw)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionChanged(event.Data.Raw)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(event.Data.Raw)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaymentSucceeded(event.Data.Raw)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(event.Data.Raw)
	default:
		slog.Debug("stripe webhook ignored", "event_type", event.Type)
		return nil
	}
}

func (s *StripeProvider) handleCheckoutSessionCompleted(data json.RawMessage) error {
	var checkout stripe.CheckoutSession
	err := json.Unmarshal(data, &checkout)
	if err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userID := checkout.Metadata["user_id"]
	if userID == "" || checkout.Customer == nil {
		slog.Warn("stripe checkout session without user_id or customer, skipping", "session_id", checkout.ID)
		return nil
	}

	sub, err := s.subscriptionService.Subscription(userID)
	if err != nil {
		return err
	}

	customerID := checkout.Customer.ID
	sub.Provider = model.ProviderStripe
	sub.ProviderCustomerID = &customerID

	err = s.subscriptionService.UpdateSubscription(sub)
	if err != nil {
		return err
	}

	slog.Info("stripe checkout completed", "user_id", userID, "customer_id", customerID)
	return nil
}

// handleSubscriptionChanged finds the local record by subscription id, or by
// customer id for a subscription seen for the first time.
func (s *StripeProvider) handleSubscriptionChanged(data json.RawMessage) error {
	var remote stripe.Subscription
	err := json.Unmarshal(data, &remote)
	if err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	sub, err := s.subscriptionService.ByProviderSubscriptionID(remote.ID)
	if err != nil && remote.Customer != nil {
		sub, err = s.subscriptionService.ByProviderCustomerID(remote.Customer.ID)
	}
	if err != nil {
		slog.Warn("stripe subscription has unknown customer, skipping", "stripe_sub_id", remote.ID)
		return nil
	}

	s.applySubscription(sub, &remote)

	err = s.subscriptionService.UpdateSubscription(sub)
	if err != nil {
		return err
	}

	slog.Info("stripe subscription synced", "user_id", sub.UserID, "stripe_sub_id", remote.ID, "status", sub.Status)
	return nil
}

func (s *StripeProvider) applySubscription(sub *model.Subscription, remote *stripe.Subscription) {
	sub.Provider = model.ProviderStripe
	remoteID := remote.ID
	sub.ProviderSubscriptionID = &remoteID
	if remote.Customer != nil && remote.Customer.ID != "" {
		customerID := remote.Customer.ID
		sub.ProviderCustomerID = &customerID
	}

	if remote.Items != nil && len(remote.Items.Data) > 0 && remote.Items.Data[0].Price != nil {
		price := remote.Items.Data[0].Price
		if planID := s.localPlanID(price.ID); planID != "" {
			sub.PlanID = planID
		}

		amount := int(price.UnitAmount)
		sub.Amount = &amount
		sub.Currency = string(price.Currency)

		if price.Recurring != nil {
			interval := mapStripeInterval(string(price.Recurring.Interval))
			sub.Interval = &interval
		}
	}

	sub.Status = mapStripeStatus(remote.Status)
	if remote.CancelAtPeriodEnd {
		sub.Status = model.SubscriptionStatusCancelled
	}

	if remote.CurrentPeriodEnd > 0 {
		periodEnd := time.Unix(remote.CurrentPeriodEnd, 0)
		sub.CurrentPeriodEnd = &periodEnd
	}
}

func (s *StripeProvider) handleSubscriptionDeleted(data json.RawMessage) error {
	var remote struct {
		ID string `json:"id"`
	}

	err := json.Unmarshal(data, &remote)
	if err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	sub, err := s.subscriptionService.ByProviderSubscriptionID(remote.ID)
	if err != nil {
		slog.Warn("stripe subscription not found, ignoring deletion", "stripe_sub_id", remote.ID)
		return nil
	}

	if sub.PlanID == model.SubscriptionPlanFree {
		return nil
	}

	err = s.subscriptionService.DowngradeToFree(sub)
	if err != nil {
		return fmt.Errorf("failed to downgrade subscription: %w", err)
	}

	slog.Info("stripe subscription deleted, downgraded to free", "user_id", sub.UserID, "stripe_sub_id", remote.ID)
	return nil
}

type stripeInvoice struct {
	SubscriptionID string `json:"subscription"`
}

func (s *StripeProvider) invoiceSubscription(data json.RawMessage) (*model.Subscription, error) {
	var invoice stripeInvoice
	err := json.Unmarshal(data, &invoice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoice: %w", err)
	}

	if invoice.SubscriptionID == "" {
		return nil, nil
	}

	sub, err := s.subscriptionService.ByProviderSubscriptionID(invoice.SubscriptionID)
	if err != nil {
		slog.Warn("stripe invoice has unknown subscription, skipping", "subscription_id", invoice.SubscriptionID)
		return nil, nil
	}
	return sub, nil
}

func (s *StripeProvider) handleInvoicePaymentSucceeded(data json.RawMessage) error {
	sub, err := s.invoiceSubscription(data)
	if err != nil || sub == nil {
		return err
	}

	if sub.Status != model.SubscriptionStatusActive {
		sub.Status = model.SubscriptionStatusActive
		err = s.subscriptionService.UpdateSubscription(sub)
		if err != nil {
			return err
		}
	}

	slog.Info("stripe invoice payment succeeded", "user_id", sub.UserID)
	return nil
}

// handleInvoicePaymentFailed only logs; Stripe retries and eventually sends
// customer.subscription.deleted.
func (s *StripeProvider) handleInvoicePaymentFailed(data json.RawMessage) error {
	sub, err := s.invoiceSubscription(data)
	if err != nil || sub == nil {
		return err
	}

	slog.Warn("stripe invoice payment failed", "user_id", sub.UserID)
	return nil
}

func (s *StripeProvider) priceID(planID, interval string) string {
	if planID != model.SubscriptionPlanPro {
		return ""
	}
	switch interval {
	case model.SubscriptionIntervalMonthly:
		return s.cfg.StripePriceIDProMonthly
	case model.SubscriptionIntervalYearly:
		return s.cfg.StripePriceIDProYearly
	default:
		return ""
	}
}

func (s *StripeProvider) localPlanID(priceID string) string {
	if priceID == "" {
		return ""
	}
	switch priceID {
	case s.cfg.StripePriceIDProMonthly, s.cfg.StripePriceIDProYearly:
		return model.SubscriptionPlanPro
	default:
		return ""
	}
}

func mapStripeStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.SubscriptionStatusActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired, stripe.SubscriptionStatusUnpaid:
		return model.SubscriptionStatusCancelled
	default:
		return string(status)
	}
}

func mapStripeInterval(interval string) string {
	switch interval {
	case "month":
		return model.SubscriptionIntervalMonthly
	case "year":
		return model.SubscriptionIntervalYearly
	default:
		return interval
	}
}
