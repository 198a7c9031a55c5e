package entitlement

import (
	"testing"
	"time"

	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
)

var (
	now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	reg = feature.DefaultRegistry()
	pol = DefaultPolicy()
)

func proPlan() *plan.Plan {
	return &plan.Plan{
		ProviderPlanID: "price_pro_monthly",
		Tier:           feature.TierProfessional,
		Interval:       plan.IntervalMonthly,
		TrialDays:      14,
		Active:         true,
	}
}

func ts(t time.Time) *time.Time { return &t }

func TestResolveNoSubscription(t *testing.T) {
	ent := Resolve(nil, nil, reg, now, pol)

	if ent.Tier != feature.TierFree {
		t.Errorf("Tier = %v, want Free", ent.Tier)
	}
	if ent.IsActive {
		t.Error("IsActive should be false")
	}
	if len(ent.Features) != len(reg.ForTier(feature.TierFree)) {
		t.Errorf("Features = %d, want Free set", len(ent.Features))
	}
}

func TestResolveTrialingGrantsFullTier(t *testing.T) {
	sub := &subscription.Subscription{
		UserID:           "user_1",
		ProviderPlanID:   "price_pro_monthly",
		Status:           subscription.StatusTrialing,
		TrialEndsAt:      ts(now.Add(14 * 24 * time.Hour)),
		CurrentPeriodEnd: now.Add(14 * 24 * time.Hour),
	}

	ent := Resolve(sub, proPlan(), reg, now, pol)

	if !ent.IsTrialing || !ent.IsActive {
		t.Errorf("IsTrialing=%v IsActive=%v, want true/true", ent.IsTrialing, ent.IsActive)
	}
	if ent.Tier != feature.TierProfessional {
		t.Errorf("Tier = %v", ent.Tier)
	}
	if ent.TrialDaysRemaining != 14 {
		t.Errorf("TrialDaysRemaining = %d, want 14", ent.TrialDaysRemaining)
	}
	// Trials get full access, not a reduced preview: the set must equal the
	// tier's full set, including everything inherited from lower tiers.
	want := reg.ForTier(feature.TierProfessional)
	if len(ent.Features) != len(want) {
		t.Errorf("Features = %d keys, want %d", len(ent.Features), len(want))
	}
	if !ent.HasFeature(feature.KeyDealBrowse) {
		t.Error("trial should include inherited Free features")
	}
	if !ent.HasFeature(feature.KeyValuationReports) {
		t.Error("trial should include the tier's own features")
	}
}

func TestTrialDaysRemainingCeil(t *testing.T) {
	tests := []struct {
		name  string
		until time.Time
		want  int
	}{
		{"30 minutes left rounds up", now.Add(30 * time.Minute), 1},
		{"exactly one day", now.Add(24 * time.Hour), 1},
		{"one day and a second", now.Add(24*time.Hour + time.Second), 2},
		{"already ended clamps to zero", now.Add(-time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := daysRemaining(tt.until, now); got != tt.want {
				t.Errorf("daysRemaining = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveTrialEnded(t *testing.T) {
	sub := &subscription.Subscription{
		UserID:      "user_1",
		Status:      subscription.StatusTrialing,
		TrialEndsAt: ts(now.Add(-time.Hour)),
	}

	ent := Resolve(sub, proPlan(), reg, now, pol)
	if ent.Tier != feature.TierFree || ent.IsActive {
		t.Errorf("ended trial should degrade to Free, got tier=%v active=%v", ent.Tier, ent.IsActive)
	}
}

func TestResolveActive(t *testing.T) {
	sub := &subscription.Subscription{
		UserID:           "user_1",
		Status:           subscription.StatusActive,
		CurrentPeriodEnd: now.Add(20 * 24 * time.Hour),
	}

	ent := Resolve(sub, proPlan(), reg, now, pol)
	if !ent.IsActive || ent.IsTrialing {
		t.Errorf("IsActive=%v IsTrialing=%v, want true/false", ent.IsActive, ent.IsTrialing)
	}
	if ent.Tier != feature.TierProfessional {
		t.Errorf("Tier = %v", ent.Tier)
	}
}

func TestResolveCancelAtPeriodEnd(t *testing.T) {
	sub := &subscription.Subscription{
		UserID:            "user_1",
		Status:            subscription.StatusActive,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  now.Add(10 * 24 * time.Hour),
	}

	// Before period end: entitlement unchanged, prepaid time honored.
	ent := Resolve(sub, proPlan(), reg, now, pol)
	if !ent.IsActive || ent.Tier != feature.TierProfessional {
		t.Errorf("before period end: tier=%v active=%v", ent.Tier, ent.IsActive)
	}

	// After period end with no renewal event: Free.
	ent = Resolve(sub, proPlan(), reg, now.Add(11*24*time.Hour), pol)
	if ent.IsActive || ent.Tier != feature.TierFree {
		t.Errorf("after period end: tier=%v active=%v", ent.Tier, ent.IsActive)
	}
}

func TestResolveGraceWindowBoundary(t *testing.T) {
	periodEnd := now.Add(-24 * time.Hour) // payment failed a day ago
	sub := &subscription.Subscription{
		UserID:           "user_1",
		Status:           subscription.StatusPastDue,
		CurrentPeriodEnd: periodEnd,
	}

	tests := []struct {
		name       string
		at         time.Time
		wantTier   feature.Tier
		wantActive bool
	}{
		{"day 1 of 3-day grace", now, feature.TierProfessional, true},
		{"just inside boundary", periodEnd.Add(pol.GraceWindow - time.Second), feature.TierProfessional, true},
		{"exactly at boundary", periodEnd.Add(pol.GraceWindow), feature.TierFree, false},
		{"day 4", periodEnd.Add(4 * 24 * time.Hour), feature.TierFree, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := Resolve(sub, proPlan(), reg, tt.at, pol)
			if ent.Tier != tt.wantTier || ent.IsActive != tt.wantActive {
				t.Errorf("tier=%v active=%v, want %v/%v", ent.Tier, ent.IsActive, tt.wantTier, tt.wantActive)
			}
		})
	}
}

func TestResolveCanceled(t *testing.T) {
	sub := &subscription.Subscription{
		UserID:           "user_1",
		Status:           subscription.StatusCanceled,
		CurrentPeriodEnd: now.Add(5 * 24 * time.Hour),
	}

	// Canceled but inside the prepaid period keeps access.
	ent := Resolve(sub, proPlan(), reg, now, pol)
	if !ent.IsActive {
		t.Error("canceled subscription should keep access until period end")
	}

	ent = Resolve(sub, proPlan(), reg, now.Add(6*24*time.Hour), pol)
	if ent.IsActive || ent.Tier != feature.TierFree {
		t.Errorf("after period end: tier=%v active=%v", ent.Tier, ent.IsActive)
	}
}

func TestResolveExpired(t *testing.T) {
	sub := &subscription.Subscription{
		UserID:           "user_1",
		Status:           subscription.StatusExpired,
		CurrentPeriodEnd: now.Add(24 * time.Hour), // even with a future period end
	}

	ent := Resolve(sub, proPlan(), reg, now, pol)
	if ent.IsActive || ent.Tier != feature.TierFree {
		t.Errorf("expired: tier=%v active=%v", ent.Tier, ent.IsActive)
	}
}

func TestResolveFailSafe(t *testing.T) {
	tests := []struct {
		name string
		sub  *subscription.Subscription
		plan *plan.Plan
	}{
		{"nil plan", &subscription.Subscription{UserID: "u", Status: subscription.StatusActive}, nil},
		{"invalid tier", &subscription.Subscription{UserID: "u", Status: subscription.StatusActive}, &plan.Plan{Tier: feature.Tier(42)}},
		{"garbage status", &subscription.Subscription{UserID: "u", Status: "mystery"}, proPlan()},
		{"trialing without trial end", &subscription.Subscription{UserID: "u", Status: subscription.StatusTrialing}, proPlan()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := Resolve(tt.sub, tt.plan, reg, now, pol)
			if ent == nil {
				t.Fatal("Resolve must never return nil")
			}
			if ent.Tier != feature.TierFree || ent.IsActive {
				t.Errorf("degraded result should be inactive Free, got tier=%v active=%v", ent.Tier, ent.IsActive)
			}
		})
	}
}

func TestResolveIntervalIndependence(t *testing.T) {
	monthly := proPlan()
	annual := &plan.Plan{
		ProviderPlanID: "price_pro_annual",
		Tier:           feature.TierProfessional,
		Interval:       plan.IntervalAnnual,
		AnnualDiscount: true,
		Active:         true,
	}
	sub := &subscription.Subscription{
		UserID:           "user_1",
		Status:           subscription.StatusActive,
		CurrentPeriodEnd: now.Add(30 * 24 * time.Hour),
	}

	a := Resolve(sub, monthly, reg, now, pol)
	b := Resolve(sub, annual, reg, now, pol)

	if len(a.Features) != len(b.Features) {
		t.Fatalf("interval changed the feature set: %d vs %d", len(a.Features), len(b.Features))
	}
	for i := range a.Features {
		if a.Features[i] != b.Features[i] {
			t.Errorf("feature %d differs: %q vs %q", i, a.Features[i], b.Features[i])
		}
	}
}
