package feature

import "fmt"

// Registry is the authoritative tier-to-feature mapping. It stores only the
// features newly introduced at each tier; the full set for a tier is always
// computed as the union over that tier and every tier below it, so the
// superset invariant holds structurally instead of by hand-maintained lists.
type Registry struct {
	features   map[Key]Feature
	introduced map[Tier][]Key
}

// NewRegistry builds and validates a registry from a feature catalog and an
// "introduced at tier" table. It rejects duplicate keys, unknown tiers, and
// table entries that reference undeclared features.
func NewRegistry(catalog []Feature, introduced map[Tier][]Key) (*Registry, error) {
	features := make(map[Key]Feature, len(catalog))
	for _, f := range catalog {
		if f.Key == "" {
			return nil, fmt.Errorf("feature: empty key for %q", f.DisplayName)
		}
		if _, dup := features[f.Key]; dup {
			return nil, fmt.Errorf("feature: duplicate key %q", f.Key)
		}
		features[f.Key] = f
	}

	seen := make(map[Key]Tier, len(features))
	for tier, keys := range introduced {
		if !tier.Valid() {
			return nil, fmt.Errorf("feature: unknown tier %d in introduction table", int(tier))
		}
		for _, k := range keys {
			if _, ok := features[k]; !ok {
				return nil, fmt.Errorf("feature: tier %s introduces undeclared key %q", tier, k)
			}
			if prev, dup := seen[k]; dup {
				return nil, fmt.Errorf("feature: key %q introduced at both %s and %s", k, prev, tier)
			}
			seen[k] = tier
		}
	}

	return &Registry{features: features, introduced: introduced}, nil
}

// MustNewRegistry is like NewRegistry but panics on error. Use for static
// catalogs validated at startup.
func MustNewRegistry(catalog []Feature, introduced map[Tier][]Key) *Registry {
	r, err := NewRegistry(catalog, introduced)
	if err != nil {
		panic(err)
	}
	return r
}

// ForTier returns the full feature set for a tier: the union of the keys
// introduced at that tier and at every tier strictly below it, in tier order
// then declaration order.
func (r *Registry) ForTier(t Tier) []Key {
	var keys []Key
	for _, tier := range Tiers() {
		if tier > t {
			break
		}
		keys = append(keys, r.introduced[tier]...)
	}
	return keys
}

// Has reports whether the given tier's feature set includes key.
func (r *Registry) Has(t Tier, key Key) bool {
	for _, tier := range Tiers() {
		if tier > t {
			break
		}
		for _, k := range r.introduced[tier] {
			if k == key {
				return true
			}
		}
	}
	return false
}

// Lookup returns the catalog entry for a key.
func (r *Registry) Lookup(key Key) (Feature, bool) {
	f, ok := r.features[key]
	return f, ok
}

// Known reports whether key is declared in the catalog. Use at API
// boundaries to reject typo'd feature keys before they reach gating logic.
func (r *Registry) Known(key Key) bool {
	_, ok := r.features[key]
	return ok
}

// IntroducedAt returns the keys a tier introduces (not inherited ones).
func (r *Registry) IntroducedAt(t Tier) []Key {
	return r.introduced[t]
}

// defaultCatalog lists every feature with its display name.
var defaultCatalog = []Feature{
	{Key: KeyDealBrowse, DisplayName: "Browse Deal Listings"},
	{Key: KeySavedSearches, DisplayName: "Saved Searches"},
	{Key: KeyEmailAlerts, DisplayName: "Email Alerts"},
	{Key: KeyDealPipeline, DisplayName: "Deal Pipeline"},
	{Key: KeyDocumentVault, DisplayName: "Document Vault"},
	{Key: KeyNDATemplates, DisplayName: "NDA Templates"},
	{Key: KeyBuyerProfile, DisplayName: "Buyer Profile"},
	{Key: KeyValuationReports, DisplayName: "Valuation Reports"},
	{Key: KeyDealRoom, DisplayName: "Deal Room"},
	{Key: KeyAdvancedSearch, DisplayName: "Advanced Search Filters"},
	{Key: KeyPrioritySupport, DisplayName: "Priority Support"},
	{Key: KeyTeamCollaboration, DisplayName: "Team Collaboration"},
	{Key: KeyAPIAccess, DisplayName: "API Access"},
	{Key: KeyCustomBranding, DisplayName: "Custom Branding"},
	{Key: KeyDedicatedSupport, DisplayName: "Dedicated Support"},
	{Key: KeyConciergeAdvisory, DisplayName: "Concierge Advisory"},
	{Key: KeyOffMarketDeals, DisplayName: "Off-Market Deal Access"},
	{Key: KeyUnlimitedSeats, DisplayName: "Unlimited Team Seats"},
}

// defaultIntroduced maps each tier to the features it newly introduces.
// Lower-tier features are never repeated here — supersets are computed.
var defaultIntroduced = map[Tier][]Key{
	TierFree:         {KeyDealBrowse, KeySavedSearches, KeyEmailAlerts},
	TierStarter:      {KeyDealPipeline, KeyDocumentVault, KeyNDATemplates, KeyBuyerProfile},
	TierProfessional: {KeyValuationReports, KeyDealRoom, KeyAdvancedSearch, KeyPrioritySupport},
	TierEnterprise:   {KeyTeamCollaboration, KeyAPIAccess, KeyCustomBranding, KeyDedicatedSupport},
	TierElite:        {KeyConciergeAdvisory, KeyOffMarketDeals, KeyUnlimitedSeats},
}

var defaultRegistry = MustNewRegistry(defaultCatalog, defaultIntroduced)

// DefaultRegistry returns the built-in feature registry. It is validated at
// package init, so an inconsistent catalog fails at startup.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
