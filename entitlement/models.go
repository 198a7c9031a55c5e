// Package entitlement computes the effective entitlement for a user: the
// resolved, point-in-time answer to "what can this user access".
package entitlement

import "github.com/xraph/entitle/feature"

// Entitlement is the derived access state for a user. It is recomputed on
// demand from the subscription record and cached — never stored
// authoritatively, never mutated.
type Entitlement struct {
	UserID             string        `json:"user_id"`
	Tier               feature.Tier  `json:"tier"`
	Features           []feature.Key `json:"features"`
	IsTrialing         bool          `json:"is_trialing"`
	TrialDaysRemaining int           `json:"trial_days_remaining"`
	IsActive           bool          `json:"is_active"`
	Reason             string        `json:"reason,omitempty"` // diagnostic, not for gating
}

// HasFeature reports whether the entitlement grants the feature key.
func (e *Entitlement) HasFeature(key feature.Key) bool {
	for _, k := range e.Features {
		if k == key {
			return true
		}
	}
	return false
}
