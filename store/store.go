// Package store defines the unified storage interface for all Entitle
// entities and is implemented by the memory, postgres, sqlite, and mongo
// backends.
package store

import (
	"context"
	"time"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/webhook"
)

// Store is the unified storage interface for all Entitle entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanByProvider(ctx context.Context, providerPlanID string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error
	DeactivatePlan(ctx context.Context, planID id.PlanID) error

	// Subscription methods
	UpsertSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetSubscriptionByProvider(ctx context.Context, providerID string) (*subscription.Subscription, error)
	GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	ListDueSubscriptions(ctx context.Context, now time.Time, graceWindow time.Duration) ([]*subscription.Subscription, error)

	// Event-ledger methods. MarkProcessed records a provider event ID so a
	// redelivery of the same event is recognized and skipped.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
	WasProcessed(ctx context.Context, eventID string) (bool, error)

	// Dead-letter methods
	CreateDeadLetter(ctx context.Context, dl *webhook.DeadLetter) error
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*webhook.DeadLetter, error)

	// Entitlement cache methods
	GetCached(ctx context.Context, userID string) (*entitlement.Entitlement, error)
	SetCached(ctx context.Context, userID string, e *entitlement.Entitlement, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
