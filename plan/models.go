// Package plan models the purchasable plan catalog: (tier, billing interval)
// pairs mirrored from the billing provider.
package plan

import (
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Interval is the billing frequency of a plan. Interval affects price and
// trial terms only — never the feature set, which derives from tier alone.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
)

// Valid reports whether the interval is a known value.
func (i Interval) Valid() bool {
	return i == IntervalMonthly || i == IntervalAnnual
}

// Plan is a purchasable catalog entry. Created when the plan is published in
// the billing provider and mirrored here; deactivated (never hard-deleted)
// when retired, so live subscriptions keep resolving.
type Plan struct {
	types.Entity
	ID             id.PlanID         `json:"id"`
	ProviderPlanID string            `json:"provider_plan_id"` // opaque, provider-assigned
	Name           string            `json:"name"`
	Tier           feature.Tier      `json:"tier"`
	Interval       Interval          `json:"interval"`
	BasePrice      types.Money       `json:"base_price"`
	TrialDays      int               `json:"trial_days"`
	AnnualDiscount bool              `json:"annual_discount"` // annual price reflects a discount over 12x monthly
	Active         bool              `json:"active"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Purchasable reports whether new checkouts may reference this plan.
// Deactivated plans still resolve for existing subscribers.
func (p *Plan) Purchasable() bool {
	return p.Active
}
