package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onSubscriptionCreated  []OnSubscriptionCreated
	onSubscriptionChanged  []OnSubscriptionChanged
	onSubscriptionCanceled []OnSubscriptionCanceled
	onSubscriptionExpired  []OnSubscriptionExpired
	onTrialWillEnd         []OnTrialWillEnd
	onEntitlementResolved  []OnEntitlementResolved
	onEventDeadLettered    []OnEventDeadLettered
	onStaleEventDiscarded  []OnStaleEventDiscarded
	onSignatureRejected    []OnSignatureRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
	}
	if v, ok := p.(OnTrialWillEnd); ok {
		r.onTrialWillEnd = append(r.onTrialWillEnd, v)
	}
	if v, ok := p.(OnEntitlementResolved); ok {
		r.onEntitlementResolved = append(r.onEntitlementResolved, v)
	}
	if v, ok := p.(OnEventDeadLettered); ok {
		r.onEventDeadLettered = append(r.onEventDeadLettered, v)
	}
	if v, ok := p.(OnStaleEventDiscarded); ok {
		r.onStaleEventDiscarded = append(r.onStaleEventDiscarded, v)
	}
	if v, ok := p.(OnSignatureRejected); ok {
		r.onSignatureRejected = append(r.onSignatureRejected, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem(), "OnSubscriptionCreated")
	checkInterface(reflect.TypeOf((*OnSubscriptionChanged)(nil)).Elem(), "OnSubscriptionChanged")
	checkInterface(reflect.TypeOf((*OnSubscriptionCanceled)(nil)).Elem(), "OnSubscriptionCanceled")
	checkInterface(reflect.TypeOf((*OnSubscriptionExpired)(nil)).Elem(), "OnSubscriptionExpired")
	checkInterface(reflect.TypeOf((*OnTrialWillEnd)(nil)).Elem(), "OnTrialWillEnd")
	checkInterface(reflect.TypeOf((*OnEntitlementResolved)(nil)).Elem(), "OnEntitlementResolved")
	checkInterface(reflect.TypeOf((*OnEventDeadLettered)(nil)).Elem(), "OnEventDeadLettered")
	checkInterface(reflect.TypeOf((*OnStaleEventDiscarded)(nil)).Elem(), "OnStaleEventDiscarded")
	checkInterface(reflect.TypeOf((*OnSignatureRejected)(nil)).Elem(), "OnSignatureRejected")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCreated(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionChanged emits a subscription changed event.
func (r *Registry) EmitSubscriptionChanged(ctx context.Context, sub interface{}, oldPlanID, newPlanID string) {
	r.mu.RLock()
	plugins := r.onSubscriptionChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionChanged(ctx, sub, oldPlanID, newPlanID)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCanceled(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCanceled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionExpired emits a subscription expired event.
func (r *Registry) EmitSubscriptionExpired(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionExpired(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTrialWillEnd emits a trial ending warning event.
func (r *Registry) EmitTrialWillEnd(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onTrialWillEnd
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTrialWillEnd(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnTrialWillEnd failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEntitlementResolved emits an entitlement resolved event.
func (r *Registry) EmitEntitlementResolved(ctx context.Context, ent interface{}, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onEntitlementResolved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEntitlementResolved(ctx, ent, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnEntitlementResolved failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventDeadLettered emits an event dead-lettered event.
func (r *Registry) EmitEventDeadLettered(ctx context.Context, eventID, reason string) {
	r.mu.RLock()
	plugins := r.onEventDeadLettered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventDeadLettered(ctx, eventID, reason)
		}); err != nil {
			r.logger.Warn("plugin OnEventDeadLettered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitStaleEventDiscarded emits a stale event discarded event.
func (r *Registry) EmitStaleEventDiscarded(ctx context.Context, eventID string) {
	r.mu.RLock()
	plugins := r.onStaleEventDiscarded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnStaleEventDiscarded(ctx, eventID)
		}); err != nil {
			r.logger.Warn("plugin OnStaleEventDiscarded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSignatureRejected emits a signature rejected event.
func (r *Registry) EmitSignatureRejected(ctx context.Context, reason string) {
	r.mu.RLock()
	plugins := r.onSignatureRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSignatureRejected(ctx, reason)
		}); err != nil {
			r.logger.Warn("plugin OnSignatureRejected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the event pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
