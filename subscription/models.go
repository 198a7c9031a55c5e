// Package subscription models the provider-backed subscription record: one
// row per provider subscription ID, mutated in place by lifecycle webhooks
// and logically retired rather than deleted.
package subscription

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status ends the subscription's life.
// Terminal records are kept for audit, never deleted.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// Subscription mirrors one provider subscription. Plan changes
// (upgrade/downgrade) update this record in place — same ProviderID — so
// history queries see one continuous record per provider subscription.
type Subscription struct {
	types.Entity
	ID             id.SubscriptionID `json:"id"`
	ProviderID     string            `json:"provider_id"` // provider-assigned subscription ID, unique
	UserID         string            `json:"user_id"`
	ProviderPlanID string            `json:"provider_plan_id"`
	// PendingProviderPlanID holds a downgrade target that takes effect at
	// period end when deferred downgrades are configured.
	PendingProviderPlanID string     `json:"pending_provider_plan_id,omitempty"`
	Status                Status     `json:"status"`
	CurrentPeriodEnd      time.Time  `json:"current_period_end"`
	TrialEndsAt           *time.Time `json:"trial_ends_at,omitempty"`
	CancelAtPeriodEnd     bool       `json:"cancel_at_period_end"`
	// LastEventAt is the timestamp of the newest provider event applied to
	// this record. Incoming events with an older timestamp are stale and
	// must be discarded rather than regress state.
	LastEventAt time.Time `json:"last_event_at"`
}

// Lapsed reports whether the subscription's paid access has ended as of now:
// a terminal or canceled-at-period-end record past its period end, or a
// past-due record past its grace window.
func (s *Subscription) Lapsed(now time.Time, graceWindow time.Duration) bool {
	switch s.Status {
	case StatusExpired:
		return true
	case StatusCanceled:
		return !now.Before(s.CurrentPeriodEnd)
	case StatusPastDue:
		return !now.Before(s.CurrentPeriodEnd.Add(graceWindow))
	case StatusActive, StatusTrialing:
		return s.CancelAtPeriodEnd && !now.Before(s.CurrentPeriodEnd)
	}
	return false
}
