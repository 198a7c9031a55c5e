// Package audithook bridges Entitle lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated  = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged  = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired  = (*Extension)(nil)
	_ plugin.OnTrialWillEnd         = (*Extension)(nil)
	_ plugin.OnEventDeadLettered    = (*Extension)(nil)
	_ plugin.OnStaleEventDiscarded  = (*Extension)(nil)
	_ plugin.OnSignatureRejected    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Entitle lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub interface{}) error {
	id, userID := subscriptionDetails(sub)
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil,
		"user_id", userID,
	)
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, sub interface{}, oldPlanID, newPlanID string) error {
	id, userID := subscriptionDetails(sub)
	return e.record(ctx, ActionSubscriptionChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil,
		"user_id", userID,
		"old_plan_id", oldPlanID,
		"new_plan_id", newPlanID,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub interface{}) error {
	id, userID := subscriptionDetails(sub)
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil,
		"user_id", userID,
	)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, sub interface{}) error {
	id, userID := subscriptionDetails(sub)
	return e.record(ctx, ActionSubscriptionExpired, SeverityWarning, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil,
		"user_id", userID,
	)
}

// OnTrialWillEnd implements plugin.OnTrialWillEnd.
func (e *Extension) OnTrialWillEnd(ctx context.Context, sub interface{}) error {
	id, userID := subscriptionDetails(sub)
	return e.record(ctx, ActionTrialWillEnd, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil,
		"user_id", userID,
	)
}

// ──────────────────────────────────────────────────
// Webhook pipeline hooks
// ──────────────────────────────────────────────────

// OnEventDeadLettered implements plugin.OnEventDeadLettered.
func (e *Extension) OnEventDeadLettered(ctx context.Context, eventID, reason string) error {
	return e.record(ctx, ActionEventDeadLettered, SeverityError, OutcomeFailure,
		ResourceWebhook, eventID, CategoryIntegration, nil,
		"event_id", eventID,
		"dead_letter_reason", reason,
	)
}

// OnStaleEventDiscarded implements plugin.OnStaleEventDiscarded.
func (e *Extension) OnStaleEventDiscarded(ctx context.Context, eventID string) error {
	return e.record(ctx, ActionStaleEventDiscarded, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, eventID, CategoryIntegration, nil,
		"event_id", eventID,
	)
}

// OnSignatureRejected implements plugin.OnSignatureRejected.
func (e *Extension) OnSignatureRejected(ctx context.Context, reason string) error {
	// Signature failures on the webhook boundary are potential probes.
	return e.record(ctx, ActionSignatureRejected, SeverityWarning, OutcomeFailure,
		ResourceWebhook, "", CategorySecurity, nil,
		"rejection_reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// subscriptionDetails extracts identifiers when the hook payload is a
// subscription record. Hooks carry interface{} so plugins stay decoupled
// from engine types; unknown payloads audit with empty identifiers.
func subscriptionDetails(v interface{}) (resourceID, userID string) {
	if sub, ok := v.(*subscription.Subscription); ok {
		return sub.ID.String(), sub.UserID
	}
	return "", ""
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
