package entitle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
	"github.com/xraph/entitle/webhook"
)

// Engine is the main entitlement engine.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	registry *feature.Registry

	// Webhook verification
	signingSecret []byte
	sigTolerance  time.Duration

	// Background workers
	retryBuffer chan *webhook.Event
	stopChan    chan struct{}
	wg          sync.WaitGroup

	// Events for the same provider subscription apply one at a time;
	// different subscriptions proceed in parallel.
	subLocks keyedMutex

	// Configuration
	graceWindow        time.Duration
	cacheTTL           time.Duration
	sweepInterval      time.Duration
	immediateDowngrade bool
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		registry:      feature.DefaultRegistry(),
		retryBuffer:   make(chan *webhook.Event, 1024),
		stopChan:      make(chan struct{}),
		sigTolerance:  webhook.DefaultTolerance,
		graceWindow:   entitlement.DefaultGraceWindow,
		cacheTTL:      30 * time.Second,
		sweepInterval: time.Minute,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRegistry sets the feature registry. Defaults to the built-in catalog.
func WithRegistry(reg *feature.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithSigningSecret sets the shared secret for webhook signature verification.
func WithSigningSecret(secret []byte) Option {
	return func(e *Engine) {
		e.signingSecret = secret
	}
}

// WithSignatureTolerance bounds how old a signed timestamp may be.
func WithSignatureTolerance(tolerance time.Duration) Option {
	return func(e *Engine) {
		e.sigTolerance = tolerance
	}
}

// WithGraceWindow sets how long past-due subscriptions keep their tier while
// payment retries run.
func WithGraceWindow(window time.Duration) Option {
	return func(e *Engine) {
		e.graceWindow = window
	}
}

// WithCacheTTL sets the entitlement cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

// WithSweepInterval sets how often due subscriptions are re-evaluated.
func WithSweepInterval(interval time.Duration) Option {
	return func(e *Engine) {
		e.sweepInterval = interval
	}
}

// WithRetryQueueSize sets the capacity of the in-process buffer holding
// events whose first application ran out of time. Defaults to 1024.
func WithRetryQueueSize(n int) Option {
	return func(e *Engine) {
		e.retryBuffer = make(chan *webhook.Event, n)
	}
}

// WithImmediateDowngrade makes plan downgrades take effect as soon as the
// provider event arrives. The default defers them to the period end, so
// subscribers keep what they paid for.
func WithImmediateDowngrade() Option {
	return func(e *Engine) {
		e.immediateDowngrade = true
	}
}

// Start begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	// Migrate database
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	// Initialize plugins
	e.plugins.EmitInit(ctx, e)

	// Start sweep and retry workers
	e.wg.Add(2)
	go e.sweepWorker()
	go e.retryWorker()

	e.logger.Info("entitle started",
		"grace_window", e.graceWindow,
		"cache_ttl", e.cacheTTL,
		"sweep_interval", e.sweepInterval,
		"immediate_downgrade", e.immediateDowngrade,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Plan Catalog
// ──────────────────────────────────────────────────

// RegisterPlan adds a plan to the catalog, mirroring a plan published in the
// billing provider.
func (e *Engine) RegisterPlan(ctx context.Context, p *plan.Plan) error {
	switch {
	case p.ProviderPlanID == "":
		return ValidationError{Field: "provider_plan_id", Message: "required"}
	case !p.Tier.Valid():
		return ValidationError{Field: "tier", Message: fmt.Sprintf("unknown tier %d", int(p.Tier))}
	case !p.Interval.Valid():
		return ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", p.Interval)}
	}

	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	p.Entity = types.NewEntity()
	p.Active = true

	return e.store.CreatePlan(ctx, p)
}

// GetPlan retrieves a plan by ID.
func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return e.store.GetPlan(ctx, planID)
}

// GetPlanByProvider retrieves a plan by its provider-assigned ID.
func (e *Engine) GetPlanByProvider(ctx context.Context, providerPlanID string) (*plan.Plan, error) {
	return e.store.GetPlanByProvider(ctx, providerPlanID)
}

// ListPlans lists catalog plans.
func (e *Engine) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return e.store.ListPlans(ctx, opts)
}

// DeactivatePlan retires a plan from new checkouts. The record is kept:
// existing subscriptions on the plan keep resolving.
func (e *Engine) DeactivatePlan(ctx context.Context, planID id.PlanID) error {
	return e.store.DeactivatePlan(ctx, planID)
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// GetSubscription retrieves a subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subID)
}

// GetSubscriptionByUser retrieves the user's newest non-expired subscription.
func (e *Engine) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return e.store.GetSubscriptionByUser(ctx, userID)
}

// ListDeadLetters returns parked event payloads for operator review.
func (e *Engine) ListDeadLetters(ctx context.Context, limit, offset int) ([]*webhook.DeadLetter, error) {
	return e.store.ListDeadLetters(ctx, limit, offset)
}

// ──────────────────────────────────────────────────
// Webhook Pipeline
// ──────────────────────────────────────────────────

// ProcessEvent verifies, parses, and applies a provider lifecycle event.
//
// Signature failures return an error the caller should map to 401. Malformed
// payloads are dead-lettered and acknowledged (nil) so the provider stops
// retrying a payload that will never parse. Duplicate and stale deliveries
// return ErrDuplicateEvent / ErrStaleEvent, which IsDiscard classifies as
// safe to acknowledge. A context deadline during application hands the event
// to the retry worker and acknowledges.
func (e *Engine) ProcessEvent(ctx context.Context, payload []byte, sigHeader string) error {
	if err := webhook.Verify(payload, sigHeader, e.signingSecret, e.sigTolerance, time.Now()); err != nil {
		e.plugins.EmitSignatureRejected(ctx, err.Error())
		e.logger.Warn("webhook signature rejected", "error", err)
		return err
	}

	evt, err := webhook.Parse(payload)
	if err != nil {
		e.deadLetter(ctx, payload, err)
		return nil
	}

	// An event naming a plan we have never registered is a data-integrity
	// problem, not a transition: park it and leave the last known-good state
	// in effect.
	if evt.Data.PlanID != "" {
		if _, err := e.store.GetPlanByProvider(ctx, evt.Data.PlanID); err != nil {
			if !IsNotFound(err) {
				return err
			}
			e.deadLetter(ctx, payload, fmt.Errorf("%w: %q", ErrUnknownPlan, evt.Data.PlanID))
			return nil
		}
	}

	if err := e.apply(ctx, evt); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return e.enqueueRetry(evt)
		}
		return err
	}
	return nil
}

// apply runs the state machine for one parsed event under the subscription's
// lock: idempotency check, stale check, transition, persist.
func (e *Engine) apply(ctx context.Context, evt *webhook.Event) error {
	unlock := e.subLocks.lock(evt.Data.SubscriptionID)
	defer unlock()

	done, err := e.store.WasProcessed(ctx, evt.EventID)
	if err != nil {
		return err
	}
	if done {
		e.logger.Debug("duplicate event discarded", "event_id", evt.EventID)
		return ErrDuplicateEvent
	}

	cur, err := e.store.GetSubscriptionByProvider(ctx, evt.Data.SubscriptionID)
	if err != nil {
		if !IsNotFound(err) {
			return err
		}
		cur = nil
	}

	if cur != nil && evt.Timestamp.Before(cur.LastEventAt) {
		// Out-of-order delivery: newer state is already applied. Discard
		// rather than regress, but remember the event ID so redeliveries
		// short-circuit at the idempotency check.
		if err := e.store.MarkProcessed(ctx, evt.EventID, time.Now().UTC()); err != nil {
			return err
		}
		e.plugins.EmitStaleEventDiscarded(ctx, evt.EventID)
		e.logger.Info("stale event discarded",
			"event_id", evt.EventID,
			"event_at", evt.Timestamp,
			"state_at", cur.LastEventAt,
		)
		return ErrStaleEvent
	}

	next, emit, err := e.transition(ctx, evt, cur)
	if err != nil {
		return err
	}

	if next != nil {
		next.Touch()
		if err := e.store.UpsertSubscription(ctx, next); err != nil {
			return err
		}
	}
	if err := e.store.MarkProcessed(ctx, evt.EventID, time.Now().UTC()); err != nil {
		return err
	}
	if next != nil {
		_ = e.store.Invalidate(ctx, next.UserID) //nolint:errcheck // best-effort cache invalidation
	}
	if emit != nil {
		emit()
	}

	e.logger.Debug("event applied", "event_id", evt.EventID, "event_type", evt.Type)
	return nil
}

// transition computes the next subscription state for an event. It returns
// the record to persist (nil for advisory events) and the plugin emission to
// run after the write lands.
func (e *Engine) transition(ctx context.Context, evt *webhook.Event, cur *subscription.Subscription) (*subscription.Subscription, func(), error) {
	now := time.Now().UTC()

	switch evt.Type {
	case webhook.TypeCreated:
		next := subscriptionFromEvent(evt, now)
		if cur != nil {
			// Redelivered create with a new event ID: keep our identity so
			// the upsert replaces in place.
			next.ID = cur.ID
			next.Entity = cur.Entity
		}
		return next, func() { e.plugins.EmitSubscriptionCreated(ctx, next) }, nil

	case webhook.TypeUpdated:
		if cur == nil {
			// Update arrived before (or instead of) the create. Build the
			// record from the event snapshot rather than dropping it.
			next := subscriptionFromEvent(evt, now)
			return next, func() { e.plugins.EmitSubscriptionCreated(ctx, next) }, nil
		}

		next := cloneSubscription(cur)
		oldPlan := cur.ProviderPlanID
		if evt.Data.PlanID != "" && evt.Data.PlanID != oldPlan {
			if e.deferDowngrade(ctx, oldPlan, evt.Data.PlanID) {
				next.PendingProviderPlanID = evt.Data.PlanID
			} else {
				next.ProviderPlanID = evt.Data.PlanID
				next.PendingProviderPlanID = ""
			}
		}
		if evt.Data.Status != "" {
			next.Status = evt.Data.Status
		}
		if !evt.Data.CurrentPeriodEnd.IsZero() {
			next.CurrentPeriodEnd = evt.Data.CurrentPeriodEnd
		}
		if evt.Data.TrialEndsAt != nil {
			next.TrialEndsAt = evt.Data.TrialEndsAt
		}
		next.CancelAtPeriodEnd = evt.Data.CancelAtPeriodEnd
		next.LastEventAt = evt.Timestamp
		return next, func() { e.plugins.EmitSubscriptionChanged(ctx, next, oldPlan, next.ProviderPlanID) }, nil

	case webhook.TypeCanceled:
		if cur == nil {
			return nil, nil, fmt.Errorf("%w: cancel for unknown provider subscription %q",
				ErrSubscriptionNotFound, evt.Data.SubscriptionID)
		}
		next := cloneSubscription(cur)
		if evt.Data.CancelAtPeriodEnd {
			// Access runs to the period end; status stays as-is and the
			// sweep expires the record once the period passes.
			next.CancelAtPeriodEnd = true
		} else {
			next.Status = subscription.StatusCanceled
		}
		if !evt.Data.CurrentPeriodEnd.IsZero() {
			next.CurrentPeriodEnd = evt.Data.CurrentPeriodEnd
		}
		next.LastEventAt = evt.Timestamp
		return next, func() { e.plugins.EmitSubscriptionCanceled(ctx, next) }, nil

	case webhook.TypeTrialWillEnd:
		// Advisory: no state change, and LastEventAt stays put so a real
		// update delivered just before this warning is not marked stale.
		if cur == nil {
			return nil, nil, nil
		}
		return nil, func() { e.plugins.EmitTrialWillEnd(ctx, cur) }, nil

	case webhook.TypePaymentSucceeded:
		if cur == nil {
			return nil, nil, fmt.Errorf("%w: payment for unknown provider subscription %q",
				ErrSubscriptionNotFound, evt.Data.SubscriptionID)
		}
		next := cloneSubscription(cur)
		if !next.Status.Terminal() {
			next.Status = subscription.StatusActive
		}
		if !evt.Data.CurrentPeriodEnd.IsZero() {
			next.CurrentPeriodEnd = evt.Data.CurrentPeriodEnd
		}
		next.LastEventAt = evt.Timestamp
		return next, func() { e.plugins.EmitSubscriptionChanged(ctx, next, cur.ProviderPlanID, next.ProviderPlanID) }, nil

	case webhook.TypePaymentFailed:
		if cur == nil {
			return nil, nil, fmt.Errorf("%w: payment failure for unknown provider subscription %q",
				ErrSubscriptionNotFound, evt.Data.SubscriptionID)
		}
		next := cloneSubscription(cur)
		if !next.Status.Terminal() {
			next.Status = subscription.StatusPastDue
		}
		next.LastEventAt = evt.Timestamp
		return next, func() { e.plugins.EmitSubscriptionChanged(ctx, next, cur.ProviderPlanID, next.ProviderPlanID) }, nil
	}

	return nil, nil, fmt.Errorf("%w: unhandled event type %q", ErrMalformedPayload, evt.Type)
}

// deferDowngrade reports whether a plan change should wait for the period
// end. Upgrades always apply immediately; a change whose tiers cannot be
// resolved applies immediately rather than stranding the event.
func (e *Engine) deferDowngrade(ctx context.Context, fromPlanID, toPlanID string) bool {
	if e.immediateDowngrade {
		return false
	}
	from, err := e.store.GetPlanByProvider(ctx, fromPlanID)
	if err != nil {
		return false
	}
	to, err := e.store.GetPlanByProvider(ctx, toPlanID)
	if err != nil {
		return false
	}
	return to.Tier < from.Tier
}

// deadLetter parks a payload that failed validation and acknowledges it.
func (e *Engine) deadLetter(ctx context.Context, payload []byte, cause error) {
	var probe struct {
		EventID string `json:"event_id"`
	}
	_ = json.Unmarshal(payload, &probe) //nolint:errcheck // best-effort ID extraction from a payload known to be bad

	dl := &webhook.DeadLetter{
		ID:         id.NewDeadLetterID(),
		EventID:    probe.EventID,
		Payload:    payload,
		Reason:     cause.Error(),
		ReceivedAt: time.Now().UTC(),
	}
	if err := e.store.CreateDeadLetter(ctx, dl); err != nil {
		e.logger.Error("failed to dead-letter event",
			"event_id", probe.EventID,
			"error", err,
		)
		return
	}

	e.plugins.EmitEventDeadLettered(ctx, probe.EventID, dl.Reason)
	e.logger.Warn("event dead-lettered",
		"event_id", probe.EventID,
		"reason", dl.Reason,
	)
}

// enqueueRetry hands an event to the retry worker for async reprocessing.
func (e *Engine) enqueueRetry(evt *webhook.Event) error {
	select {
	case e.retryBuffer <- evt:
		e.logger.Warn("event deferred for async reprocess", "event_id", evt.EventID)
		return nil
	default:
		return ErrRetryQueueFull
	}
}

// retryWorker reprocesses events whose first application ran out of time.
func (e *Engine) retryWorker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopChan:
			return
		case evt := <-e.retryBuffer:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := e.apply(ctx, evt)
			cancel()
			if err != nil && !IsDiscard(err) {
				e.logger.Error("event reprocess failed",
					"event_id", evt.EventID,
					"error", err,
				)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// Entitlement returns the effective entitlement for a user. Results are
// cached for the configured TTL. Store failures degrade to the Free tier
// with a warning log rather than surfacing an error: denying extra features
// is safe, granting them on bad data is not.
func (e *Engine) Entitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}

	// Check cache first
	if cached, err := e.store.GetCached(ctx, userID); err == nil {
		return cached, nil
	}

	start := time.Now()
	ent := e.resolve(ctx, userID)
	elapsed := time.Since(start)

	_ = e.store.SetCached(ctx, userID, ent, e.cacheTTL) //nolint:errcheck // best-effort cache set
	e.plugins.EmitEntitlementResolved(ctx, ent, elapsed)

	return ent, nil
}

func (e *Engine) resolve(ctx context.Context, userID string) *entitlement.Entitlement {
	pol := entitlement.Policy{GraceWindow: e.graceWindow}
	now := time.Now()

	sub, err := e.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		if !IsNotFound(err) {
			e.logger.Warn("entitlement degraded to free",
				"user_id", userID,
				"error", err,
			)
		}
		ent := entitlement.Resolve(nil, nil, e.registry, now, pol)
		ent.UserID = userID
		return ent
	}

	p, err := e.store.GetPlanByProvider(ctx, sub.ProviderPlanID)
	if err != nil {
		e.logger.Warn("entitlement degraded to free",
			"user_id", userID,
			"provider_plan_id", sub.ProviderPlanID,
			"error", err,
		)
		p = nil
	}

	return entitlement.Resolve(sub, p, e.registry, now, pol)
}

// HasFeature reports whether the user's entitlement grants the feature key.
// Unknown keys and resolution failures report false: gating fails closed.
func (e *Engine) HasFeature(ctx context.Context, userID string, key feature.Key) bool {
	if !e.registry.Known(key) {
		e.logger.Warn("unknown feature key", "key", key)
		return false
	}

	ent, err := e.Entitlement(ctx, userID)
	if err != nil {
		return false
	}
	return ent.HasFeature(key)
}

// InvalidateEntitlement drops the cached entitlement for a user.
func (e *Engine) InvalidateEntitlement(ctx context.Context, userID string) error {
	return e.store.Invalidate(ctx, userID)
}

// ──────────────────────────────────────────────────
// Sweeper
// ──────────────────────────────────────────────────

// sweepWorker re-evaluates due subscriptions on a fixed interval.
func (e *Engine) sweepWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep applies overdue transitions: deferred downgrades whose period end
// has passed, and expirations for lapsed records. The billing provider
// normally sends an event for each of these; the sweep is the backstop for
// events that never arrive. Exported so operators can trigger it on demand.
func (e *Engine) Sweep(ctx context.Context) {
	due, err := e.store.ListDueSubscriptions(ctx, time.Now().UTC(), e.graceWindow)
	if err != nil {
		e.logger.Error("sweep failed", "error", err)
		return
	}

	applied := 0
	for _, sub := range due {
		if e.sweepOne(ctx, sub.ProviderID) {
			applied++
		}
	}
	if applied > 0 {
		e.logger.Info("sweep applied", "count", applied)
	}
}

func (e *Engine) sweepOne(ctx context.Context, providerID string) bool {
	unlock := e.subLocks.lock(providerID)
	defer unlock()

	// Re-read under the lock; a webhook may have just advanced this record.
	cur, err := e.store.GetSubscriptionByProvider(ctx, providerID)
	if err != nil {
		if !IsNotFound(err) {
			e.logger.Error("sweep read failed", "provider_id", providerID, "error", err)
		}
		return false
	}

	now := time.Now().UTC()
	next := cloneSubscription(cur)
	var emit func()

	switch {
	case cur.Status == subscription.StatusActive && !cur.CancelAtPeriodEnd &&
		cur.PendingProviderPlanID != "" && !now.Before(cur.CurrentPeriodEnd):
		// Deferred downgrade takes effect at the period end.
		oldPlan := cur.ProviderPlanID
		next.ProviderPlanID = cur.PendingProviderPlanID
		next.PendingProviderPlanID = ""
		emit = func() { e.plugins.EmitSubscriptionChanged(ctx, next, oldPlan, next.ProviderPlanID) }

	case cur.Lapsed(now, e.graceWindow) || trialEnded(cur, now):
		next.Status = subscription.StatusExpired
		emit = func() { e.plugins.EmitSubscriptionExpired(ctx, next) }

	default:
		return false
	}

	next.Touch()
	if err := e.store.UpsertSubscription(ctx, next); err != nil {
		e.logger.Error("sweep update failed", "provider_id", providerID, "error", err)
		return false
	}
	_ = e.store.Invalidate(ctx, cur.UserID) //nolint:errcheck // best-effort cache invalidation
	if emit != nil {
		emit()
	}
	return true
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// subscriptionFromEvent builds a fresh subscription record from an event
// snapshot.
func subscriptionFromEvent(evt *webhook.Event, now time.Time) *subscription.Subscription {
	s := &subscription.Subscription{
		Entity:            types.NewEntity(),
		ID:                id.NewSubscriptionID(),
		ProviderID:        evt.Data.SubscriptionID,
		UserID:            evt.Data.UserID,
		ProviderPlanID:    evt.Data.PlanID,
		Status:            evt.Data.Status,
		CurrentPeriodEnd:  evt.Data.CurrentPeriodEnd,
		TrialEndsAt:       evt.Data.TrialEndsAt,
		CancelAtPeriodEnd: evt.Data.CancelAtPeriodEnd,
		LastEventAt:       evt.Timestamp,
	}
	if s.Status == "" {
		s.Status = subscription.StatusActive
		if s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt) {
			s.Status = subscription.StatusTrialing
		}
	}
	return s
}

func cloneSubscription(s *subscription.Subscription) *subscription.Subscription {
	c := *s
	return &c
}

func trialEnded(s *subscription.Subscription, now time.Time) bool {
	return s.Status == subscription.StatusTrialing &&
		s.TrialEndsAt != nil && !now.Before(*s.TrialEndsAt)
}

// keyedMutex serializes work per string key. Lock entries are refcounted and
// removed once the last holder releases, so the map does not grow with the
// subscription count.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (km *keyedMutex) lock(key string) (unlock func()) {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*keyedLock)
	}
	l := km.locks[key]
	if l == nil {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
