package audithook

// Action constants for audit events.
const (
	// Plan actions
	ActionPlanCreated = "plan.created"
	ActionPlanUpdated = "plan.updated"

	// Order and payment actions
	ActionOrderCreated    = "order.created"
	ActionPaymentRecorded = "payment.recorded"
	ActionPaymentRejected = "payment.rejected"
	ActionGatewayError    = "gateway.error"

	// Subscription actions
	ActionSubscriptionActivated  = "subscription.activated"
	ActionSubscriptionCancelled  = "subscription.cancelled"
	ActionSubscriptionDowngraded = "subscription.downgraded"
	ActionSubscriptionExpired    = "subscription.expired"

	// Usage and entitlement actions
	ActionUsageIncremented  = "usage.incremented"
	ActionEntitlementDenied = "entitlement.denied"
	ActionQuotaExceeded     = "quota.exceeded"
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourceOrder        = "order"
	ResourcePayment      = "payment"
	ResourceGateway      = "gateway"
	ResourceSubscription = "subscription"
	ResourceUsage        = "usage"
	ResourceEntitlement  = "entitlement"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryAccess       = "access"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
	CategorySecurity     = "security"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
