package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/webhook"
)

type Store struct {
	mu sync.RWMutex

	// Plan storage
	plans map[string]*plan.Plan

	// Subscription storage, keyed by internal ID
	subscriptions map[string]*subscription.Subscription

	// Processed-event ledger
	processed map[string]time.Time

	// Dead letters, append order
	deadLetters []*webhook.DeadLetter

	// Entitlement cache
	entitlementCache map[string]*entitlement.Entitlement
	cacheExpiry      map[string]time.Time
}

func New() *Store {
	return &Store{
		plans:            make(map[string]*plan.Plan),
		subscriptions:    make(map[string]*subscription.Subscription),
		processed:        make(map[string]time.Time),
		deadLetters:      make([]*webhook.DeadLetter, 0),
		entitlementCache: make(map[string]*entitlement.Entitlement),
		cacheExpiry:      make(map[string]time.Time),
	}
}

// Plan Store implementation
func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.plans {
		if existing.ProviderPlanID == p.ProviderPlanID {
			return entitle.ErrDuplicatePlan
		}
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return clonePlan(p), nil
	}
	return nil, entitle.ErrUnknownPlan
}

func (s *Store) GetPlanByProvider(_ context.Context, providerPlanID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.ProviderPlanID == providerPlanID {
			return clonePlan(p), nil
		}
	}
	return nil, entitle.ErrUnknownPlan
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if !opts.ActiveOnly || p.Purchasable() {
			result = append(result, clonePlan(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProviderPlanID < result[j].ProviderPlanID
	})

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return entitle.ErrUnknownPlan
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) DeactivatePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, exists := s.plans[planID.String()]; exists {
		p.Active = false
		p.Touch()
		return nil
	}
	return entitle.ErrUnknownPlan
}

// Subscription Store implementation
func (s *Store) UpsertSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ProviderID is the natural key: a redelivered or updated record
	// replaces the row carrying the same provider subscription ID.
	for key, existing := range s.subscriptions {
		if existing.ProviderID == sub.ProviderID {
			delete(s.subscriptions, key)
			break
		}
	}
	s.subscriptions[sub.ID.String()] = cloneSubscription(sub)
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return cloneSubscription(sub), nil
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByProvider(_ context.Context, providerID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ProviderID == providerID {
			return cloneSubscription(sub), nil
		}
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByUser(_ context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || sub.Status == subscription.StatusExpired {
			continue
		}
		if newest == nil || sub.CreatedAt.After(newest.CreatedAt) {
			newest = sub
		}
	}
	if newest == nil {
		return nil, entitle.ErrNoActiveSubscription
	}
	return cloneSubscription(newest), nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if opts.UserID != "" && sub.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && sub.Status != opts.Status {
			continue
		}
		result = append(result, cloneSubscription(sub))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) ListDueSubscriptions(_ context.Context, now time.Time, graceWindow time.Duration) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if dueForSweep(sub, now, graceWindow) {
			result = append(result, cloneSubscription(sub))
		}
	}
	return result, nil
}

// dueForSweep reports whether the subscription has crossed a deadline that
// changes its effective state and needs a sweep pass.
func dueForSweep(sub *subscription.Subscription, now time.Time, graceWindow time.Duration) bool {
	switch sub.Status {
	case subscription.StatusTrialing:
		return sub.TrialEndsAt != nil && !now.Before(*sub.TrialEndsAt)
	case subscription.StatusActive:
		deadline := sub.CancelAtPeriodEnd || sub.PendingProviderPlanID != ""
		return deadline && !now.Before(sub.CurrentPeriodEnd)
	case subscription.StatusPastDue:
		return !now.Before(sub.CurrentPeriodEnd.Add(graceWindow))
	case subscription.StatusCanceled:
		return !now.Before(sub.CurrentPeriodEnd)
	}
	return false
}

// Getters hand out shallow copies so callers never alias a record the store
// mutates in place later.
func clonePlan(p *plan.Plan) *plan.Plan {
	cp := *p
	return &cp
}

func cloneSubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	return &cp
}

// Event-ledger implementation
func (s *Store) MarkProcessed(_ context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed[eventID] = at
	return nil
}

func (s *Store) WasProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[eventID]
	return ok, nil
}

// Dead-letter implementation
func (s *Store) CreateDeadLetter(_ context.Context, dl *webhook.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

func (s *Store) ListDeadLetters(_ context.Context, limit, offset int) ([]*webhook.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := offset
	if start > len(s.deadLetters) {
		start = len(s.deadLetters)
	}
	end := start + limit
	if limit == 0 || end > len(s.deadLetters) {
		end = len(s.deadLetters)
	}

	result := make([]*webhook.DeadLetter, end-start)
	copy(result, s.deadLetters[start:end])
	return result, nil
}

// Entitlement cache implementation
func (s *Store) GetCached(_ context.Context, userID string) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if expiry, ok := s.cacheExpiry[userID]; ok {
		if time.Now().Before(expiry) {
			if e, ok := s.entitlementCache[userID]; ok {
				return e, nil
			}
		}
	}
	return nil, entitle.ErrCacheMiss
}

func (s *Store) SetCached(_ context.Context, userID string, e *entitlement.Entitlement, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entitlementCache[userID] = e
	s.cacheExpiry[userID] = time.Now().Add(ttl)
	return nil
}

func (s *Store) Invalidate(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entitlementCache, userID)
	delete(s.cacheExpiry, userID)
	return nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
