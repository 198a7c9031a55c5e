package subscription

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
)

type Store interface {
	// Upsert creates or replaces the record keyed by ProviderID.
	Upsert(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetByProvider(ctx context.Context, providerID string) (*Subscription, error)
	// GetByUser returns the user's newest non-expired subscription: a new
	// subscription for the same user supersedes, never coexists with, the
	// prior one.
	GetByUser(ctx context.Context, userID string) (*Subscription, error)
	List(ctx context.Context, opts ListOpts) ([]*Subscription, error)
	// ListDue returns non-terminal subscriptions whose trial end, period
	// end, or grace deadline has passed, for sweeper re-evaluation.
	ListDue(ctx context.Context, now time.Time, graceWindow time.Duration) ([]*Subscription, error)
}

type ListOpts struct {
	UserID string
	Status Status
	Limit  int
	Offset int
}
