// Package entitle provides a composable subscription entitlement engine for
// Go applications.
//
// Entitle is designed as a library, not a service. Import it directly into
// your Go application and embed its handlers into your router. It provides:
//
//   - Deterministic tier-to-feature mapping with structural inheritance
//   - A pure, fail-safe entitlement resolver (trials, grace windows,
//     period-end cancellation)
//   - An idempotent, order-robust webhook state machine for billing
//     provider lifecycle events
//   - Fast per-user entitlement queries with short-TTL caching
//   - Pluggable storage (memory, PostgreSQL, SQLite, MongoDB)
//   - Lifecycle plugins for metrics, audit trails, and notifications
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/entitle"
//	    "github.com/xraph/entitle/store/memory"
//	)
//
//	eng := entitle.New(memory.New(),
//	    entitle.WithSigningSecret(secret),
//	    entitle.WithGraceWindow(72*time.Hour),
//	)
//
//	// Start the engine (migrates the store, begins background workers)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Tiers are ordered; each tier's feature set is a strict superset of every
// lower tier's. The feature registry stores only the features a tier
// introduces, and computes the full set as a union:
//
//	reg := feature.DefaultRegistry()
//	keys := reg.ForTier(feature.TierProfessional) // includes Starter + Free
//
// Plans connect a provider-assigned plan ID to a tier and billing interval.
// Interval affects price and trial terms, never the feature set:
//
//	p := &plan.Plan{
//	    ProviderPlanID: "price_1N...",
//	    Tier:           feature.TierProfessional,
//	    Interval:       plan.IntervalMonthly,
//	    BasePrice:      entitle.USD(4900),
//	    TrialDays:      14,
//	}
//
// Subscriptions are mirrored from the billing provider through signed
// webhook events:
//
//	err := eng.ProcessEvent(ctx, payload, signatureHeader)
//
// Entitlement queries answer "what can this user access" for both
// server-side guards and UI gating — one source of truth:
//
//	ent, _ := eng.Entitlement(ctx, userID)
//	if eng.HasFeature(ctx, userID, feature.KeyDealPipeline) {
//	    // gate the route or component
//	}
//
// # Fail-safe resolution
//
// The resolver never surfaces internal errors to callers. Missing or
// malformed subscription data degrades to the Free tier with a warning log:
// denying extra features is safe, granting them on bad data is not.
//
// # Integration
//
// Entitle integrates with the Forgery ecosystem:
//
//   - Forge: extension adapter with DI registration and YAML config
//   - Grove: PostgreSQL, SQLite, and MongoDB store backends
//   - Chronicle: audit trail via the audit_hook plugin
//
// # TypeID
//
// Internal entities use TypeID for globally unique, type-safe identifiers:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	evt_01h455vb4pex5vsknk084sn02q   // Processed event record
//
// Provider-assigned identifiers (plan IDs, subscription IDs, event IDs) are
// kept verbatim as opaque strings alongside them.
package entitle
