package payment

import (
	"fmt"
	"log/slog"

	"github.com/armiapp/armi/internal/config"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/service"
)

// NewProvider returns nil without error when no provider is configured;
// purchases then report service.ErrPurchasesNotConfigured.
func NewProvider(cfg *config.Config, subscriptionService *service.SubscriptionService) (Provider, error) {
	provider := cfg.PaymentProvider
	if provider == "" {
		slog.Info("no payment provider configured, purchases disabled")
		return nil, nil
	}

	slog.Info("initializing payment provider", "provider", provider)

	switch provider {
	case model.ProviderPolar:
		if cfg.PolarAPIKey == "" {
			return nil, fmt.Errorf("POLAR_API_KEY is required when using Polar provider")
		}
		return NewPolarProvider(cfg, subscriptionService), nil

	case model.ProviderStripe:
		if cfg.StripeSecretKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY is required when using Stripe provider")
		}
		if cfg.StripeWebhookSecret == "" {
			return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when using Stripe provider")
		}
		return NewStripeProvider(cfg, subscriptionService), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s (supported: polar, stripe)", provider)
	}
}

// Offering builds the configured offering from the provider's product ids.
// Packages without a product id are left out.
func Offering(cfg *config.Config) model.Offering {
	monthly, yearly := cfg.StripePriceIDProMonthly, cfg.StripePriceIDProYearly
	if cfg.PaymentProvider == model.ProviderPolar {
		monthly, yearly = cfg.PolarProductIDProMonthly, cfg.PolarProductIDProYearly
	}

	offering := model.Offering{ID: cfg.OfferingID, Packages: []model.Package{}}
	candidates := []model.Package{
		{ID: PackageProMonthly, PlanID: model.SubscriptionPlanPro, Interval: model.SubscriptionIntervalMonthly, ProductID: monthly},
		{ID: PackageProYearly, PlanID: model.SubscriptionPlanPro, Interval: model.SubscriptionIntervalYearly, ProductID: yearly},
	}
	for _, pkg := range candidates {
		if pkg.ProductID != "" {
			offering.Packages = append(offering.Packages, pkg)
		}
	}
	return offering
}
