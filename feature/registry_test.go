package feature

import "testing"

func TestTierInheritance(t *testing.T) {
	reg := DefaultRegistry()

	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		lower, higher := tiers[i-1], tiers[i]
		t.Run(lower.String()+"_subset_of_"+higher.String(), func(t *testing.T) {
			higherSet := make(map[Key]bool)
			for _, k := range reg.ForTier(higher) {
				higherSet[k] = true
			}
			for _, k := range reg.ForTier(lower) {
				if !higherSet[k] {
					t.Errorf("%s has %q but %s does not", lower, k, higher)
				}
			}
		})
	}
}

func TestForTierGrowsStrictly(t *testing.T) {
	reg := DefaultRegistry()

	prev := 0
	for _, tier := range Tiers() {
		n := len(reg.ForTier(tier))
		if n <= prev && tier != TierFree {
			t.Errorf("%s has %d features, not more than the tier below (%d)", tier, n, prev)
		}
		prev = n
	}
}

func TestHasMatchesForTier(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		tier Tier
		key  Key
		want bool
	}{
		{TierFree, KeyDealBrowse, true},
		{TierFree, KeyDealPipeline, false},
		{TierStarter, KeyDealBrowse, true}, // inherited from Free
		{TierStarter, KeyValuationReports, false},
		{TierProfessional, KeyDealPipeline, true}, // inherited from Starter
		{TierProfessional, KeyAPIAccess, false},
		{TierElite, KeyDealBrowse, true}, // inherited across every tier
		{TierElite, KeyConciergeAdvisory, true},
	}

	for _, tt := range tests {
		t.Run(tt.tier.String()+"/"+string(tt.key), func(t *testing.T) {
			if got := reg.Has(tt.tier, tt.key); got != tt.want {
				t.Errorf("Has(%s, %q) = %v, want %v", tt.tier, tt.key, got, tt.want)
			}
		})
	}
}

func TestNewRegistryValidation(t *testing.T) {
	catalog := []Feature{
		{Key: "a", DisplayName: "A"},
		{Key: "b", DisplayName: "B"},
	}

	tests := []struct {
		name       string
		catalog    []Feature
		introduced map[Tier][]Key
	}{
		{
			name:       "undeclared key",
			catalog:    catalog,
			introduced: map[Tier][]Key{TierFree: {"a", "missing"}},
		},
		{
			name:       "key introduced twice",
			catalog:    catalog,
			introduced: map[Tier][]Key{TierFree: {"a"}, TierStarter: {"a"}},
		},
		{
			name:       "unknown tier",
			catalog:    catalog,
			introduced: map[Tier][]Key{Tier(99): {"a"}},
		},
		{
			name:       "duplicate catalog key",
			catalog:    []Feature{{Key: "a", DisplayName: "A"}, {Key: "a", DisplayName: "A again"}},
			introduced: map[Tier][]Key{},
		},
		{
			name:       "empty key",
			catalog:    []Feature{{Key: "", DisplayName: "Nameless"}},
			introduced: map[Tier][]Key{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.catalog, tt.introduced); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestParseTierRoundTrip(t *testing.T) {
	for _, tier := range Tiers() {
		parsed, err := ParseTier(tier.String())
		if err != nil {
			t.Fatalf("ParseTier(%q): %v", tier.String(), err)
		}
		if parsed != tier {
			t.Errorf("round-trip mismatch: %v != %v", parsed, tier)
		}
	}

	if _, err := ParseTier("platinum"); err == nil {
		t.Error("expected error for unknown tier name")
	}
}

func TestKnown(t *testing.T) {
	reg := DefaultRegistry()
	if !reg.Known(KeyDealRoom) {
		t.Error("declared key should be known")
	}
	if reg.Known("deal_rom") {
		t.Error("typo'd key should not be known")
	}
}
