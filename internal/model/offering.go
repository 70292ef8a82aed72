package model

// Package is a purchasable product inside an offering.
type Package struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	Interval  string `json:"interval"`
	ProductID string `json:"product_id"`
}

type Offering struct {
	ID       string    `json:"id"`
	Packages []Package `json:"packages"`
}

// CustomerInfo is the purchase system's view of a user.
type CustomerInfo struct {
	UserID             string     `json:"user_id"`
	ActiveEntitlements []string   `json:"active_entitlements"`
	Subscription       *PlanState `json:"subscription,omitempty"`
}

type PlanState struct {
	PlanID   string `json:"plan_id"`
	Status   string `json:"status"`
	Price    string `json:"price,omitempty"`
	Provider string `json:"provider,omitempty"`
}
