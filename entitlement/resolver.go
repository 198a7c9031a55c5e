package entitlement

import (
	"time"

	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
)

// DefaultGraceWindow is how long a past-due subscription keeps its tier
// past the period end while payment retries run. Billing-retry policy
// varies by provider, so this is configuration, not a constant of the
// domain.
const DefaultGraceWindow = 72 * time.Hour

// Policy holds the tunable parts of resolution.
type Policy struct {
	GraceWindow time.Duration
}

// DefaultPolicy returns the default resolution policy.
func DefaultPolicy() Policy {
	return Policy{GraceWindow: DefaultGraceWindow}
}

// Resolve maps a subscription record (or absence thereof) to an effective
// entitlement. It is a pure function: no I/O, no clock reads, no errors.
// Anything missing or inconsistent degrades to the Free tier — denying
// extra features is safe, granting them on bad data is not. The caller
// logs the degradation.
func Resolve(sub *subscription.Subscription, p *plan.Plan, reg *feature.Registry, now time.Time, pol Policy) *Entitlement {
	if reg == nil {
		reg = feature.DefaultRegistry()
	}
	if pol.GraceWindow <= 0 {
		pol.GraceWindow = DefaultGraceWindow
	}
	now = now.UTC()

	if sub == nil {
		return free(reg, "", "no subscription")
	}
	if p == nil || !p.Tier.Valid() {
		return free(reg, sub.UserID, "plan unresolved")
	}

	switch sub.Status {
	case subscription.StatusTrialing:
		if sub.TrialEndsAt == nil || !now.Before(*sub.TrialEndsAt) {
			return free(reg, sub.UserID, "trial ended")
		}
		return &Entitlement{
			UserID:             sub.UserID,
			Tier:               p.Tier,
			Features:           reg.ForTier(p.Tier),
			IsTrialing:         true,
			TrialDaysRemaining: daysRemaining(*sub.TrialEndsAt, now),
			IsActive:           true,
			Reason:             "trialing",
		}

	case subscription.StatusActive:
		// cancelAtPeriodEnd leaves entitlement unchanged until the period
		// end passes: cancellation honors prepaid time, never takes effect
		// immediately.
		if sub.CancelAtPeriodEnd && !now.Before(sub.CurrentPeriodEnd) {
			return free(reg, sub.UserID, "canceled at period end")
		}
		return granted(reg, sub.UserID, p.Tier, "active")

	case subscription.StatusPastDue:
		if now.Before(sub.CurrentPeriodEnd.Add(pol.GraceWindow)) {
			return granted(reg, sub.UserID, p.Tier, "past due, in grace window")
		}
		return free(reg, sub.UserID, "grace window elapsed")

	case subscription.StatusCanceled:
		if now.Before(sub.CurrentPeriodEnd) {
			return granted(reg, sub.UserID, p.Tier, "canceled, access until period end")
		}
		return free(reg, sub.UserID, "canceled")

	case subscription.StatusExpired:
		return free(reg, sub.UserID, "expired")
	}

	return free(reg, sub.UserID, "unknown status")
}

// granted builds a full-access entitlement at the given tier.
func granted(reg *feature.Registry, userID string, tier feature.Tier, reason string) *Entitlement {
	return &Entitlement{
		UserID:   userID,
		Tier:     tier,
		Features: reg.ForTier(tier),
		IsActive: true,
		Reason:   reason,
	}
}

// free builds the fail-safe Free-tier entitlement.
func free(reg *feature.Registry, userID, reason string) *Entitlement {
	return &Entitlement{
		UserID:   userID,
		Tier:     feature.TierFree,
		Features: reg.ForTier(feature.TierFree),
		IsActive: false,
		Reason:   reason,
	}
}

// daysRemaining is ceil((until-now)/24h) clamped to zero: a trial ending in
// 30 minutes reports 1 day remaining, not 0.
func daysRemaining(until, now time.Time) int {
	remaining := until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}
