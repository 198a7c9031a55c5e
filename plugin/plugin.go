// Package plugin provides an extensible plugin system for Entitle.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a new subscription record is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub interface{}) error
}

// OnSubscriptionChanged is called when a subscription changes plan or status.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, sub interface{}, oldPlanID, newPlanID string) error
}

// OnSubscriptionCanceled is called when a subscription is canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub interface{}) error
}

// OnSubscriptionExpired is called when a subscription expires.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, sub interface{}) error
}

// OnTrialWillEnd is called when the provider warns that a trial is ending.
type OnTrialWillEnd interface {
	Plugin
	OnTrialWillEnd(ctx context.Context, sub interface{}) error
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementResolved is called when an entitlement is resolved for a user.
type OnEntitlementResolved interface {
	Plugin
	OnEntitlementResolved(ctx context.Context, ent interface{}, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Webhook pipeline hooks
// ──────────────────────────────────────────────────

// OnEventDeadLettered is called when an event payload fails validation and is
// parked for operator review.
type OnEventDeadLettered interface {
	Plugin
	OnEventDeadLettered(ctx context.Context, eventID, reason string) error
}

// OnStaleEventDiscarded is called when an out-of-order event is discarded.
type OnStaleEventDiscarded interface {
	Plugin
	OnStaleEventDiscarded(ctx context.Context, eventID string) error
}

// OnSignatureRejected is called when a webhook signature fails verification.
type OnSignatureRejected interface {
	Plugin
	OnSignatureRejected(ctx context.Context, reason string) error
}
