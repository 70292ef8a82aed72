package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	polargo "github.com/polarsource/polar-go"
	"github.com/polarsource/polar-go/models/components"
	"github.com/polarsource/polar-go/models/operations"
	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/armiapp/armi/internal/config"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/service"
)

type PolarProvider struct {
	cfg                 *config.Config
	subscriptionService *service.SubscriptionService
	client              *polargo.Polar
}

func NewPolarProvider(cfg *config.Config, subscriptionService *service.SubscriptionService) *PolarProvider {
	server := polargo.ServerProduction
	if cfg.PolarSandboxMode {
		server = polargo.ServerSandbox
	}
	slog.Info("polar provider initialized", "sandbox", cfg.PolarSandboxMode, "app_env", cfg.AppEnv)

	client := polargo.New(
		polargo.WithSecurity(cfg.PolarAPIKey),
		polargo.WithServer(server),
	)

	return &PolarProvider{
		cfg:                 cfg,
		subscriptionService: subscriptionService,
		client:              client,
	}
}

func (p *PolarProvider) Name() string {
	return model.ProviderPolar
}

func (p *PolarProvider) CreateCheckoutURL(ctx context.Context, req service.CheckoutRequest) (string, error) {
	sub, err := p.subscriptionService.Subscription(req.UserID)
	if err != nil {
		return "", err
	}

	productID := p.productID(req.PlanID, req.Interval)
	if productID == "" {
		return "", fmt.Errorf("no product configured for plan: %s (%s)", req.PlanID, req.Interval)
	}

	metadata := map[string]components.CheckoutCreateMetadata{
		"user_id":         components.CreateCheckoutCreateMetadataStr(req.UserID),
		"subscription_id": components.CreateCheckoutCreateMetadataStr(sub.ID),
		"plan_id":         components.CreateCheckoutCreateMetadataStr(req.PlanID),
	}

	res, err := p.client.Checkouts.Create(ctx, components.CheckoutCreate{
		Products:           []string{productID},
		SuccessURL:         polargo.String(p.cfg.AppURL + "/billing/success"),
		ReturnURL:          polargo.String(p.cfg.AppURL + "/billing"),
		CustomerEmail:      polargo.String(req.CustomerEmail),
		AllowDiscountCodes: polargo.Bool(true),
		Metadata:           metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create checkout: %w", err)
	}

	if res == nil || res.Checkout == nil {
		return "", fmt.Errorf("checkout response is nil")
	}

	slog.Info("polar checkout created", "user_id", req.UserID, "plan_id", req.PlanID, "checkout_id", res.Checkout.ID)
	return res.Checkout.URL, nil
}

func (p *PolarProvider) CustomerPortalURL(ctx context.Context, userID string) (string, error) {
	sub, err := p.subscriptionService.Subscription(userID)
	if err != nil {
		return "", err
	}

	if sub.ProviderCustomerID == nil || *sub.ProviderCustomerID == "" {
		return "", service.ErrNoCustomerAccount
	}

	sessionCreate := operations.CreateCustomerSessionsCreateCustomerSessionCreateCustomerSessionCustomerIDCreate(
		components.CustomerSessionCustomerIDCreate{
			CustomerID: *sub.ProviderCustomerID,
			ReturnURL:  polargo.String(p.cfg.AppURL + "/billing"),
		},
	)
	res, err := p.client.CustomerSessions.Create(ctx, sessionCreate)
	if err != nil {
		return "", fmt.Errorf("failed to create customer portal session: %w", err)
	}

	if res == nil || res.CustomerSession == nil {
		return "", fmt.Errorf("customer portal response is nil")
	}

	slog.Info("polar customer portal session created", "user_id", userID)
	return res.CustomerSession.CustomerPortalURL, nil
}

// Restore trusts the webhook-maintained record; Polar pushes every change.
func (p *PolarProvider) Restore(ctx context.Context, userID string) error {
	sub, err := p.subscriptionService.Subscription(userID)
	if err != nil {
		return err
	}

	slog.Info("polar restore uses webhook state", "user_id", userID, "plan_id", sub.PlanID, "status", sub.Status)
	return nil
}

func (p *PolarProvider) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if p.cfg.PolarWebhookSecret == "" {
		slog.Warn("polar no webhook secret configured, skipping signature verification")
	} else {
		wh, err := standardwebhooks.NewWebhookRaw([]byte(p.cfg.PolarWebhookSecret))
		if err != nil {
			return fmt.Errorf("failed to create webhook verifier: %w", err)
		}

		err = wh.Verify(payload, headers)
		if err != nil {
			return fmt.Errorf("invalid webhook signature: %w", err)
		}
	}

	var event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	err := json.Unmarshal(payload, &event)
	if err != nil {
		return fmt.Errorf("failed to parse webhook: %w", err)
	}

	slog.Info("polar webhook received", "event_type", event.Type)

	var data polarSubscription
	switch event.Type {
	case "subscription.created", "subscription.updated", "subscription.canceled",
		"subscription.uncanceled", "subscription.revoked":
		err = json.Unmarshal(event.Data, &data)
		if err != nil {
			return fmt.Errorf("failed to parse subscription data: %w", err)
		}
	default:
		slog.Debug("polar webhook ignored", "event_type", event.Type)
		return nil
	}

	switch event.Type {
	case "subscription.created":
		return p.handleSubscriptionCreated(data)
	case "subscription.updated":
		return p.handleSubscriptionUpdated(data)
	case "subscription.canceled":
		return p.handleSubscriptionCanceled(data)
	case "subscription.uncanceled":
		return p.handleSubscriptionUncanceled(data)
	default:
		return p.handleSubscriptionRevoked(data)
	}
}

type polarSubscription struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer_id"`
	ProductID         *string           `json:"product_id"`
	Amount            *int              `json:"amount"`
	Currency          *string           `json:"currency"`
	RecurringInterval *string           `json:"recurring_interval"`
	Status            string            `json:"status"`
	CurrentPeriodEnd  *string           `json:"current_period_end"`
	EndedAt           *string           `json:"ended_at"`
	Metadata          map[string]string `json:"metadata"`
}

// apply copies pricing and period fields present in the payload.
func (d polarSubscription) apply(sub *model.Subscription) {
	if d.Amount != nil {
		sub.Amount = d.Amount
	}
	if d.Currency != nil {
		sub.Currency = *d.Currency
	}
	if d.RecurringInterval != nil {
		interval := mapPolarInterval(*d.RecurringInterval)
		sub.Interval = &interval
	}
	if d.CurrentPeriodEnd != nil {
		periodEnd, err := time.Parse(time.RFC3339, *d.CurrentPeriodEnd)
		if err == nil {
			sub.CurrentPeriodEnd = &periodEnd
		}
	}
}

func (p *PolarProvider) handleSubscriptionCreated(data polarSubscription) error {
	userID := data.Metadata["user_id"]
	if userID == "" {
		slog.Warn("polar webhook no user_id in subscription metadata, skipping", "polar_sub_id", data.ID)
		return nil
	}

	sub, err := p.subscriptionService.Subscription(userID)
	if err != nil {
		return err
	}

	sub.PlanID = model.SubscriptionPlanPro
	if data.ProductID != nil {
		if planID := p.localPlanID(*data.ProductID); planID != "" {
			sub.PlanID = planID
		}
	}

	customerID, subID := data.CustomerID, data.ID
	sub.Provider = model.ProviderPolar
	sub.ProviderCustomerID = &customerID
	sub.ProviderSubscriptionID = &subID
	sub.Status = model.SubscriptionStatusActive
	data.apply(sub)

	err = p.subscriptionService.UpdateSubscription(sub)
	if err != nil {
		return err
	}

	slog.Info("polar subscription created", "user_id", userID, "plan_id", sub.PlanID, "polar_sub_id", data.ID)
	return nil
}

func (p *PolarProvider) handleSubscriptionUpdated(data polarSubscription) error {
	sub, err := p.subscriptionService.ByProviderSubscriptionID(data.ID)
	if err != nil {
		slog.Warn("polar subscription not found, skipping update", "polar_sub_id", data.ID)
		return nil
	}

	if data.EndedAt != nil {
		err = p.subscriptionService.DowngradeToFree(sub)
		if err != nil {
			return fmt.Errorf("failed to downgrade subscription: %w", err)
		}
		slog.Info("polar subscription ended, downgraded to free", "user_id", sub.UserID, "polar_sub_id", data.ID)
		return nil
	}

	if data.ProductID != nil {
		if planID := p.localPlanID(*data.ProductID); planID != "" {
			sub.PlanID = planID
		}
	}

	data.apply(sub)
	if data.Status != "" {
		sub.Status = mapPolarStatus(data.Status)
	}

	err = p.subscriptionService.UpdateSubscription(sub)
	if err != nil {
		return err
	}

	slog.Info("polar subscription updated", "user_id", sub.UserID, "polar_sub_id", data.ID, "status", sub.Status)
	return nil
}

// handleSubscriptionCanceled keeps access until the period ends.
func (p *PolarProvider) handleSubscriptionCanceled(data polarSubscription) error {
	sub, err := p.subscriptionService.ByProviderSubscriptionID(data.ID)
	if err != nil {
		slog.Warn("polar subscription not found, ignoring cancellation", "polar_sub_id", data.ID)
		return nil
	}

	if sub.PlanID == model.SubscriptionPlanFree {
		return nil
	}

	sub.Status = model.SubscriptionStatusCancelled
	data.apply(sub)

	err = p.subscriptionService.UpdateSubscription(sub)
	if err != nil {
		return err
	}

	slog.Info("polar subscription canceled", "user_id", sub.UserID, "polar_sub_id", data.ID)
	return nil
}

func (p *PolarProvider) handleSubscriptionUncanceled(data polarSubscription) error {
	sub, err := p.subscriptionService.ByProviderSubscriptionID(data.ID)
	if err != nil {
		slog.Warn("polar subscription not found, ignoring uncanceled event", "polar_sub_id", data.ID)
		return nil
	}

	sub.Status = model.SubscriptionStatusActive

	err = p.subscriptionService.UpdateSubscription(sub)
	if err != nil {
		return err
	}

	slog.Info("polar subscription uncanceled", "user_id", sub.UserID, "polar_sub_id", data.ID)
	return nil
}

// handleSubscriptionRevoked ends access immediately.
func (p *PolarProvider) handleSubscriptionRevoked(data polarSubscription) error {
	sub, err := p.subscriptionService.ByProviderSubscriptionID(data.ID)
	if err != nil {
		slog.Warn("polar subscription not found, ignoring revoked event", "polar_sub_id", data.ID)
		return nil
	}

	if sub.PlanID == model.SubscriptionPlanFree {
		return nil
	}

	err = p.subscriptionService.DowngradeToFree(sub)
	if err != nil {
		return fmt.Errorf("failed to downgrade subscription: %w", err)
	}

	slog.Info("polar subscription revoked, downgraded to free", "user_id", sub.UserID, "polar_sub_id", data.ID)
	return nil
}

func (p *PolarProvider) productID(planID, interval string) string {
	if planID != model.SubscriptionPlanPro {
		return ""
	}
	switch interval {
	case model.SubscriptionIntervalMonthly:
		return p.cfg.PolarProductIDProMonthly
	case model.SubscriptionIntervalYearly:
		return p.cfg.PolarProductIDProYearly
	default:
		return ""
	}
}

func (p *PolarProvider) localPlanID(productID string) string {
	if productID == "" {
		return ""
	}
	switch productID {
	case p.cfg.PolarProductIDProMonthly, p.cfg.PolarProductIDProYearly:
		return model.SubscriptionPlanPro
	default:
		return ""
	}
}

func mapPolarStatus(status string) string {
	switch status {
	case "active", "trialing":
		return model.SubscriptionStatusActive
	case "canceled", "unpaid", "incomplete_expired":
		return model.SubscriptionStatusCancelled
	default:
		return status
	}
}

func mapPolarInterval(interval string) string {
	switch interval {
	case "month":
		return model.SubscriptionIntervalMonthly
	case "year":
		return model.SubscriptionIntervalYearly
	default:
		return interval
	}
}
