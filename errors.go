package entitle

import (
	"errors"
	"fmt"

	"github.com/xraph/entitle/webhook"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("entitle: not found")
	ErrInvalidInput = errors.New("entitle: invalid input")

	// Catalog errors
	ErrUnknownPlan     = errors.New("entitle: unknown plan id")
	ErrPlanDeactivated = errors.New("entitle: plan is deactivated")
	ErrDuplicatePlan   = errors.New("entitle: duplicate provider plan id")
	ErrUnknownFeature  = errors.New("entitle: unknown feature key")
	ErrUnknownTier     = errors.New("entitle: unknown tier")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("entitle: subscription not found")
	ErrNoActiveSubscription = errors.New("entitle: no active subscription")

	// Webhook boundary errors, re-exported so callers can classify with
	// errors.Is against either package.
	ErrInvalidSignature = webhook.ErrInvalidSignature
	ErrSignatureExpired = webhook.ErrSignatureExpired
	ErrMalformedPayload = webhook.ErrMalformedPayload
	ErrDuplicateEvent   = errors.New("entitle: event already processed")
	ErrStaleEvent       = errors.New("entitle: event older than stored state")
	ErrRetryQueueFull   = errors.New("entitle: retry queue full")

	// Store errors
	ErrStoreNotReady = errors.New("entitle: store not ready")
	ErrStoreClosed   = errors.New("entitle: store is closed")

	// Cache errors
	ErrCacheMiss       = errors.New("entitle: cache miss")
	ErrCacheInvalidate = errors.New("entitle: cache invalidation failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownPlan) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrUnknownFeature)
}

// IsSecurity returns true if the error should be logged as security-relevant.
// Signature failures on the webhook boundary are potential probes, never
// routine noise.
func IsSecurity(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrSignatureExpired)
}

// IsDiscard returns true if the error marks an event that is safe to drop
// without alarm. Duplicates and stale deliveries are expected under
// at-least-once webhook delivery.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrStaleEvent)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrRetryQueueFull) ||
		errors.Is(err, ErrCacheInvalidate)
}
