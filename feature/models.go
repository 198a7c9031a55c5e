// Package feature defines the ordered subscription tiers and the closed
// catalog of feature keys, with the tier-inheritance rule that higher tiers
// always receive every lower tier's features.
package feature

import "fmt"

// Tier is an ordered subscription level. Ordering is significant: a higher
// tier's feature set is a superset of every lower tier's.
type Tier int

const (
	TierFree Tier = iota
	TierStarter
	TierProfessional
	TierEnterprise
	TierElite
)

// Tiers returns all tiers in ascending order.
func Tiers() []Tier {
	return []Tier{TierFree, TierStarter, TierProfessional, TierEnterprise, TierElite}
}

var tierNames = map[Tier]string{
	TierFree:         "free",
	TierStarter:      "starter",
	TierProfessional: "professional",
	TierEnterprise:   "enterprise",
	TierElite:        "elite",
}

// String returns the lowercase tier name.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// ParseTier parses a lowercase tier name.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return TierFree, fmt.Errorf("feature: unknown tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(data []byte) error {
	parsed, err := ParseTier(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Key identifies a feature. Keys form a closed enumeration: every key is
// declared as a constant and registered in the default registry, so a typo
// is a startup error, not a silent runtime false.
type Key string

// Feature keys, grouped by the tier that introduces them.
const (
	// Free
	KeyDealBrowse    Key = "deal_browse"
	KeySavedSearches Key = "saved_searches"
	KeyEmailAlerts   Key = "email_alerts"

	// Starter
	KeyDealPipeline  Key = "deal_pipeline"
	KeyDocumentVault Key = "document_vault"
	KeyNDATemplates  Key = "nda_templates"
	KeyBuyerProfile  Key = "buyer_profile"

	// Professional
	KeyValuationReports Key = "valuation_reports"
	KeyDealRoom         Key = "deal_room"
	KeyAdvancedSearch   Key = "advanced_search"
	KeyPrioritySupport  Key = "priority_support"

	// Enterprise
	KeyTeamCollaboration Key = "team_collaboration"
	KeyAPIAccess         Key = "api_access"
	KeyCustomBranding    Key = "custom_branding"
	KeyDedicatedSupport  Key = "dedicated_support"

	// Elite
	KeyConciergeAdvisory Key = "concierge_advisory"
	KeyOffMarketDeals    Key = "off_market_deals"
	KeyUnlimitedSeats    Key = "unlimited_seats"
)

// Feature is an immutable catalog entry: a unique snake_case key plus a
// human-readable display name. Created at deploy time from static
// configuration, never mutated at runtime.
type Feature struct {
	Key         Key    `json:"key"`
	DisplayName string `json:"display_name"`
}
