// Package observability provides a metrics extension for Entitle that records
// lifecycle event counts via a pluggable MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/entitle/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired  = (*MetricsExtension)(nil)
	_ plugin.OnTrialWillEnd         = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementResolved  = (*MetricsExtension)(nil)
	_ plugin.OnEventDeadLettered    = (*MetricsExtension)(nil)
	_ plugin.OnStaleEventDiscarded  = (*MetricsExtension)(nil)
	_ plugin.OnSignatureRejected    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an Entitle plugin to automatically track entitlement metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Subscription metrics
	SubscriptionCreated  Counter
	SubscriptionChanged  Counter
	SubscriptionCanceled Counter
	SubscriptionExpired  Counter
	TrialEndingWarnings  Counter

	// Entitlement metrics
	EntitlementResolved Counter
	EntitlementLatency  Histogram

	// Webhook pipeline metrics
	EventsDeadLettered Counter
	StaleEventsDropped Counter
	SignaturesRejected Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Subscription metrics
		SubscriptionCreated:  factory.Counter("entitle.subscription.created"),
		SubscriptionChanged:  factory.Counter("entitle.subscription.changed"),
		SubscriptionCanceled: factory.Counter("entitle.subscription.canceled"),
		SubscriptionExpired:  factory.Counter("entitle.subscription.expired"),
		TrialEndingWarnings:  factory.Counter("entitle.subscription.trial_will_end"),

		// Entitlement metrics
		EntitlementResolved: factory.Counter("entitle.entitlement.resolved"),
		EntitlementLatency:  factory.Histogram("entitle.entitlement.latency_ms"),

		// Webhook pipeline metrics
		EventsDeadLettered: factory.Counter("entitle.webhook.dead_lettered"),
		StaleEventsDropped: factory.Counter("entitle.webhook.stale_dropped"),
		SignaturesRejected: factory.Counter("entitle.webhook.signature_rejected"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ interface{}) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ interface{}, _, _ string) error {
	m.SubscriptionChanged.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ interface{}) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, _ interface{}) error {
	m.SubscriptionExpired.Inc()
	return nil
}

// OnTrialWillEnd implements plugin.OnTrialWillEnd.
func (m *MetricsExtension) OnTrialWillEnd(_ context.Context, _ interface{}) error {
	m.TrialEndingWarnings.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementResolved implements plugin.OnEntitlementResolved.
func (m *MetricsExtension) OnEntitlementResolved(_ context.Context, _ interface{}, elapsed time.Duration) error {
	m.EntitlementResolved.Inc()
	m.EntitlementLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Webhook pipeline hooks
// ──────────────────────────────────────────────────

// OnEventDeadLettered implements plugin.OnEventDeadLettered.
func (m *MetricsExtension) OnEventDeadLettered(_ context.Context, _, _ string) error {
	m.EventsDeadLettered.Inc()
	return nil
}

// OnStaleEventDiscarded implements plugin.OnStaleEventDiscarded.
func (m *MetricsExtension) OnStaleEventDiscarded(_ context.Context, _ string) error {
	m.StaleEventsDropped.Inc()
	return nil
}

// OnSignatureRejected implements plugin.OnSignatureRejected.
func (m *MetricsExtension) OnSignatureRejected(_ context.Context, _ string) error {
	m.SignaturesRejected.Inc()
	return nil
}
