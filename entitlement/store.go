package entitlement

import (
	"context"
	"time"
)

// Store is the per-user entitlement cache. Invalidate must be called on
// every subscription state transition; a delete-then-recompute-on-next-read
// policy keeps staleness bounded without distributed locking.
type Store interface {
	GetCached(ctx context.Context, userID string) (*Entitlement, error)
	SetCached(ctx context.Context, userID string, e *Entitlement, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}
