package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionCreated  = "subscription.created"
	ActionSubscriptionChanged  = "subscription.changed"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionSubscriptionExpired  = "subscription.expired"
	ActionTrialWillEnd         = "subscription.trial_will_end"

	// Webhook pipeline actions
	ActionEventDeadLettered   = "webhook.dead_lettered"
	ActionStaleEventDiscarded = "webhook.stale_discarded"
	ActionSignatureRejected   = "webhook.signature_rejected"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
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
	OutcomePartial = "partial"
)
