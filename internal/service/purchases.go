package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
)

var (
	ErrUnknownPackage    = errors.New("unknown package")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNoCustomerAccount = errors.New("no billing account for this user")
)

type CheckoutRequest struct {
	UserID        string
	PlanID        string
	Interval      string
	CustomerEmail string
}

// PaymentProvider is a checkout backend keeping the subscriptions table
// current through webhooks.
type PaymentProvider interface {
	Name() string
	CreateCheckoutURL(ctx context.Context, req CheckoutRequest) (string, error)
	CustomerPortalURL(ctx context.Context, userID string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) error
	// Restore re-syncs the user's subscription from the provider.
	Restore(ctx context.Context, userID string) error
}

// PurchaseService is the purchase and entitlement system. Built without a
// provider it is unconfigured and every call reports ErrPurchasesNotConfigured.
type PurchaseService struct {
	provider            PaymentProvider
	subscriptionService *SubscriptionService
	entitlementIDs      []string
	offering            model.Offering
	now                 func() time.Time
}

func NewPurchaseService(provider PaymentProvider, subscriptionService *SubscriptionService, entitlementIDs []string, offering model.Offering) *PurchaseService {
	return &PurchaseService{
		provider:            provider,
		subscriptionService: subscriptionService,
		entitlementIDs:      entitlementIDs,
		offering:            offering,
		now:                 time.Now,
	}
}

func (s *PurchaseService) Configured() bool {
	return s != nil && s.provider != nil
}

func (s *PurchaseService) ProviderName() string {
	if !s.Configured() {
		return ""
	}
	return s.provider.Name()
}

// LogIn makes sure the user has a subscription record to attach purchases to.
func (s *PurchaseService) LogIn(ctx context.Context, userID string) error {
	if !s.Configured() {
		return ErrPurchasesNotConfigured
	}

	_, err := s.subscriptionService.EnsureSubscription(userID)
	if err != nil {
		return err
	}

	slog.Debug("purchases customer logged in", "user_id", userID, "provider", s.provider.Name())
	return nil
}

func (s *PurchaseService) LogOut(ctx context.Context, userID string) error {
	if !s.Configured() {
		return ErrPurchasesNotConfigured
	}

	slog.Debug("purchases customer logged out", "user_id", userID, "provider", s.provider.Name())
	return nil
}

// ActiveEntitlements lists model.EntitlementIDPro and its aliases while a
// paid plan grants access. Users without a subscription have none.
func (s *PurchaseService) ActiveEntitlements(ctx context.Context, userID string) ([]string, error) {
	if !s.Configured() {
		return nil, ErrPurchasesNotConfigured
	}

	sub, err := s.subscriptionService.Subscription(userID)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	return s.entitlementsFor(sub), nil
}

func (s *PurchaseService) entitlementsFor(sub *model.Subscription) []string {
	if sub.PlanID != model.SubscriptionPlanPro || !sub.HasAccessAt(s.now()) {
		return []string{}
	}
	return append([]string{model.EntitlementIDPro}, s.entitlementIDs...)
}

func (s *PurchaseService) CustomerInfo(ctx context.Context, userID string) (*model.CustomerInfo, error) {
	if !s.Configured() {
		return nil, ErrPurchasesNotConfigured
	}

	info := &model.CustomerInfo{UserID: userID, ActiveEntitlements: []string{}}

	sub, err := s.subscriptionService.Subscription(userID)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	info.ActiveEntitlements = s.entitlementsFor(sub)
	info.Subscription = &model.PlanState{
		PlanID:   sub.PlanID,
		Status:   sub.Status,
		Price:    sub.FormatPrice(),
		Provider: sub.Provider,
	}
	return info, nil
}

func (s *PurchaseService) Offerings(ctx context.Context) (*model.Offering, error) {
	if !s.Configured() {
		return nil, ErrPurchasesNotConfigured
	}

	offering := s.offering
	return &offering, nil
}

// Purchase returns the provider checkout URL for the package.
func (s *PurchaseService) Purchase(ctx context.Context, user *model.User, packageID string) (string, error) {
	if !s.Configured() {
		return "", &PurchaseError{Op: "purchase", Err: ErrPurchasesNotConfigured}
	}

	pkg, ok := s.findPackage(packageID)
	if !ok {
		return "", &PurchaseError{Op: "purchase", Err: fmt.Errorf("%w: %s", ErrUnknownPackage, packageID)}
	}

	sub, err := s.subscriptionService.EnsureSubscription(user.ID)
	if err != nil {
		return "", &PurchaseError{Op: "purchase", Err: err}
	}
	if sub.PlanID == model.SubscriptionPlanPro && sub.IsActive() {
		return "", &PurchaseError{Op: "purchase", Err: ErrAlreadySubscribed}
	}

	url, err := s.provider.CreateCheckoutURL(ctx, CheckoutRequest{
		UserID:        user.ID,
		PlanID:        pkg.PlanID,
		Interval:      pkg.Interval,
		CustomerEmail: user.Email,
	})
	if err != nil {
		slog.Error("checkout failed", "error", err, "user_id", user.ID, "package_id", packageID)
		return "", &PurchaseError{Op: "purchase", Err: err}
	}

	return url, nil
}

func (s *PurchaseService) findPackage(packageID string) (model.Package, bool) {
	for _, pkg := range s.offering.Packages {
		if pkg.ID == packageID {
			return pkg, true
		}
	}
	return model.Package{}, false
}

// RestorePurchases re-syncs from the provider and returns the fresh state.
func (s *PurchaseService) RestorePurchases(ctx context.Context, userID string) (*model.CustomerInfo, error) {
	if !s.Configured() {
		return nil, &PurchaseError{Op: "restore", Err: ErrPurchasesNotConfigured}
	}

	_, err := s.subscriptionService.EnsureSubscription(userID)
	if err != nil {
		return nil, &PurchaseError{Op: "restore", Err: err}
	}

	err = s.provider.Restore(ctx, userID)
	if err != nil {
		slog.Error("restore failed", "error", err, "user_id", userID)
		return nil, &PurchaseError{Op: "restore", Err: err}
	}

	info, err := s.CustomerInfo(ctx, userID)
	if err != nil {
		return nil, &PurchaseError{Op: "restore", Err: err}
	}

	slog.Info("purchases restored", "user_id", userID, "entitlements", len(info.ActiveEntitlements))
	return info, nil
}

func (s *PurchaseService) ManageURL(ctx context.Context, userID string) (string, error) {
	if !s.Configured() {
		return "", &PurchaseError{Op: "manage", Err: ErrPurchasesNotConfigured}
	}

	url, err := s.provider.CustomerPortalURL(ctx, userID)
	if err != nil {
		return "", &PurchaseError{Op: "manage", Err: err}
	}
	return url, nil
}

func (s *PurchaseService) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if !s.Configured() {
		return ErrPurchasesNotConfigured
	}
	return s.provider.HandleWebhook(ctx, payload, headers)
}
