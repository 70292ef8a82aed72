package payment

import "github.com/armiapp/armi/internal/service"

// Provider is implemented by every payment backend. The purchase service
// declares the contract; providers live here to reach the subscription store.
type Provider = service.PaymentProvider

// Package IDs of the default offering.
const (
	PackageProMonthly = "pro_monthly"
	PackageProYearly  = "pro_yearly"
)
