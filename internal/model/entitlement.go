package model

// EntitlementIDPro is the entitlement granted by an active paid subscription.
const EntitlementIDPro = "pro"

// EntitlementStatus is derived on demand and never stored.
type EntitlementStatus struct {
	IsPro                  bool      `json:"is_pro"`
	SelectedListType       *ListType `json:"selected_list_type"`
	IsProForLife           bool      `json:"is_pro_for_life"`
	HasExternalEntitlement bool      `json:"has_external_entitlement"`
}

// NewEntitlementStatus applies the pro rule: pro-for-life is a permanent override.
func NewEntitlementStatus(isProForLife, hasExternal bool, listType *ListType) EntitlementStatus {
	return EntitlementStatus{
		IsPro:                  isProForLife || hasExternal,
		SelectedListType:       listType,
		IsProForLife:           isProForLife,
		HasExternalEntitlement: hasExternal,
	}
}
