package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/armiapp/armi/internal/metrics"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
)

type ProfileReader interface {
	ByUserID(userID string) (*model.Profile, error)
}

type EntitlementChecker interface {
	ActiveEntitlements(ctx context.Context, userID string) ([]string, error)
}

// EntitlementResolver merges the backend pro-for-life flag with the purchase
// system's entitlements. It never fails: backend and purchase errors are
// logged and fold to the free defaults.
type EntitlementResolver struct {
	profiles     ProfileReader
	entitlements EntitlementChecker
	accepted     map[string]bool
	metrics      *metrics.Collector
}

// NewEntitlementResolver accepts model.EntitlementIDPro plus the given aliases.
func NewEntitlementResolver(profiles ProfileReader, entitlements EntitlementChecker, entitlementIDs []string, m *metrics.Collector) *EntitlementResolver {
	accepted := map[string]bool{model.EntitlementIDPro: true}
	for _, id := range entitlementIDs {
		accepted[id] = true
	}

	return &EntitlementResolver{
		profiles:     profiles,
		entitlements: entitlements,
		accepted:     accepted,
		metrics:      m,
	}
}

func (r *EntitlementResolver) Resolve(ctx context.Context, user *model.User) model.EntitlementStatus {
	if user == nil {
		return model.EntitlementStatus{}
	}

	isProForLife, listType := r.profileFields(user.ID)
	hasExternal := r.hasExternalEntitlement(ctx, user.ID)

	status := model.NewEntitlementStatus(isProForLife, hasExternal, listType)
	r.metrics.RecordEntitlement(status.IsPro)

	slog.Debug("entitlement resolved",
		"user_id", user.ID,
		"is_pro", status.IsPro,
		"is_pro_for_life", status.IsProForLife,
		"has_external_entitlement", status.HasExternalEntitlement)
	return status
}

func (r *EntitlementResolver) profileFields(userID string) (bool, *model.ListType) {
	profile, err := r.profiles.ByUserID(userID)
	if errors.Is(err, repository.ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		readErr := &ProfileReadError{UserID: userID, Err: err}
		slog.Error("profile read failed, using defaults", "error", readErr, "user_id", userID)
		r.metrics.RecordRecoveredError("profile_read")
		return false, nil
	}

	listType := profile.SelectedListType
	if listType != nil && !listType.Valid() {
		slog.Warn("ignoring unknown list type", "user_id", userID, "list_type", string(*listType))
		listType = nil
	}

	return profile.IsProForLife, listType
}

func (r *EntitlementResolver) hasExternalEntitlement(ctx context.Context, userID string) bool {
	active, err := r.entitlements.ActiveEntitlements(ctx, userID)
	if errors.Is(err, ErrPurchasesNotConfigured) {
		return false
	}
	if err != nil {
		checkErr := &EntitlementCheckError{UserID: userID, Err: err}
		slog.Error("entitlement check failed, treating as not entitled", "error", checkErr, "user_id", userID)
		r.metrics.RecordRecoveredError("entitlement_check")
		return false
	}

	for _, id := range active {
		if r.accepted[id] {
			return true
		}
	}
	return false
}
