package entitle_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/webhook"
)

var secret = []byte("whsec_test_secret")

// newEngine builds an engine over a fresh memory store with a small plan
// catalog: starter, professional, and elite monthly plans.
func newEngine(t *testing.T, opts ...entitle.Option) *entitle.Engine {
	t.Helper()

	opts = append([]entitle.Option{entitle.WithSigningSecret(secret)}, opts...)
	eng := entitle.New(memory.New(), opts...)

	ctx := context.Background()
	plans := []*plan.Plan{
		{ProviderPlanID: "price_starter_m", Name: "Starter Monthly", Tier: feature.TierStarter, Interval: plan.IntervalMonthly, BasePrice: entitle.USD(2900)},
		{ProviderPlanID: "price_pro_m", Name: "Professional Monthly", Tier: feature.TierProfessional, Interval: plan.IntervalMonthly, BasePrice: entitle.USD(9900), TrialDays: 14},
		{ProviderPlanID: "price_elite_m", Name: "Elite Monthly", Tier: feature.TierElite, Interval: plan.IntervalMonthly, BasePrice: entitle.USD(49900)},
	}
	for _, p := range plans {
		if err := eng.RegisterPlan(ctx, p); err != nil {
			t.Fatalf("RegisterPlan(%s): %v", p.ProviderPlanID, err)
		}
	}
	return eng
}

// signed marshals an event and signs it with the test secret.
func signed(t *testing.T, evt webhook.Event) (payload []byte, header string) {
	t.Helper()

	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}
	return payload, webhook.Sign(payload, secret, time.Now())
}

// deliver signs and processes an event, failing the test on any error that
// is not a safe discard.
func deliver(t *testing.T, eng *entitle.Engine, evt webhook.Event) {
	t.Helper()

	payload, header := signed(t, evt)
	if err := eng.ProcessEvent(context.Background(), payload, header); err != nil && !entitle.IsDiscard(err) {
		t.Fatalf("ProcessEvent(%s): %v", evt.EventID, err)
	}
}

func created(eventID, subID, userID, planID string, at time.Time, data func(*webhook.Data)) webhook.Event {
	evt := webhook.Event{
		EventID:   eventID,
		Type:      webhook.TypeCreated,
		Timestamp: at,
		Data: webhook.Data{
			SubscriptionID: subID,
			PlanID:         planID,
			UserID:         userID,
			Status:         subscription.StatusActive,
		},
	}
	if data != nil {
		data(&evt.Data)
	}
	return evt
}

func TestProcessEventRejectsBadSignature(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	evt := created("evt_sig_1", "sub_prov_1", "user_1", "price_pro_m", time.Now(), nil)
	payload, header := signed(t, evt)

	t.Run("tampered payload", func(t *testing.T) {
		tampered := append([]byte(nil), payload...)
		tampered[len(tampered)-2] ^= 0xff
		err := eng.ProcessEvent(ctx, tampered, header)
		if !errors.Is(err, entitle.ErrInvalidSignature) {
			t.Fatalf("got %v, want ErrInvalidSignature", err)
		}
		if !entitle.IsSecurity(err) {
			t.Fatal("signature failure should classify as security-relevant")
		}
	})

	t.Run("missing header", func(t *testing.T) {
		if err := eng.ProcessEvent(ctx, payload, ""); !errors.Is(err, entitle.ErrInvalidSignature) {
			t.Fatalf("got %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("replayed old timestamp", func(t *testing.T) {
		stale := webhook.Sign(payload, secret, time.Now().Add(-time.Hour))
		if err := eng.ProcessEvent(ctx, payload, stale); !errors.Is(err, entitle.ErrSignatureExpired) {
			t.Fatalf("got %v, want ErrSignatureExpired", err)
		}
	})

	// Nothing should have been applied.
	if _, err := eng.GetSubscriptionByUser(ctx, "user_1"); !entitle.IsNotFound(err) {
		t.Fatalf("subscription exists after rejected deliveries: %v", err)
	}
}

func TestProcessEventDeadLettersMalformed(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	// Valid JSON, missing required fields. A properly signed payload that
	// fails validation is parked and acknowledged, not bounced back to the
	// provider for useless retries.
	payload := []byte(`{"event_id":"evt_bad_1","event_type":"subscription.created","timestamp":"2026-03-01T00:00:00Z","data":{}}`)
	header := webhook.Sign(payload, secret, time.Now())

	if err := eng.ProcessEvent(ctx, payload, header); err != nil {
		t.Fatalf("malformed payload should be acknowledged, got %v", err)
	}

	dls, err := eng.ListDeadLetters(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dls) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(dls))
	}
	if dls[0].EventID != "evt_bad_1" {
		t.Fatalf("dead letter event ID = %q, want evt_bad_1", dls[0].EventID)
	}
	if dls[0].Reason == "" {
		t.Fatal("dead letter missing reason")
	}
}

func TestProcessEventDeadLettersUnknownPlan(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	deliver(t, eng, created("evt_up_1", "sub_prov_up", "user_up", "price_pro_m", now, nil))

	// An update naming a plan the catalog has never seen is parked; the
	// subscription keeps its last known-good plan.
	evt := created("evt_up_2", "sub_prov_up", "user_up", "price_ghost_m", now.Add(time.Minute), nil)
	evt.Type = webhook.TypeUpdated
	payload, header := signed(t, evt)
	if err := eng.ProcessEvent(ctx, payload, header); err != nil {
		t.Fatalf("unknown-plan payload should be acknowledged, got %v", err)
	}

	dls, err := eng.ListDeadLetters(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dls) != 1 || dls[0].EventID != "evt_up_2" {
		t.Fatalf("dead letters = %+v, want one for evt_up_2", dls)
	}

	sub, err := eng.GetSubscriptionByUser(ctx, "user_up")
	if err != nil {
		t.Fatal(err)
	}
	if sub.ProviderPlanID != "price_pro_m" {
		t.Fatalf("plan = %q, want price_pro_m untouched", sub.ProviderPlanID)
	}
}

func TestProcessEventIdempotent(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	evt := created("evt_dup_1", "sub_prov_dup", "user_dup", "price_pro_m", now, nil)
	deliver(t, eng, evt)

	// Redelivery of the same event ID is recognized and discarded.
	payload, header := signed(t, evt)
	err := eng.ProcessEvent(ctx, payload, header)
	if !errors.Is(err, entitle.ErrDuplicateEvent) {
		t.Fatalf("got %v, want ErrDuplicateEvent", err)
	}
	if !entitle.IsDiscard(err) {
		t.Fatal("duplicate should classify as a safe discard")
	}

	sub, err := eng.GetSubscriptionByUser(ctx, "user_dup")
	if err != nil {
		t.Fatal(err)
	}
	if sub.ProviderPlanID != "price_pro_m" {
		t.Fatalf("plan = %q after duplicate, want price_pro_m", sub.ProviderPlanID)
	}
}

func TestProcessEventDiscardsStale(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	deliver(t, eng, created("evt_stale_1", "sub_prov_stale", "user_stale", "price_pro_m", now, nil))

	// Upgrade applied at T+1m.
	deliver(t, eng, webhook.Event{
		EventID:   "evt_stale_2",
		Type:      webhook.TypeUpdated,
		Timestamp: now.Add(time.Minute),
		Data: webhook.Data{
			SubscriptionID: "sub_prov_stale",
			PlanID:         "price_elite_m",
			UserID:         "user_stale",
			Status:         subscription.StatusActive,
		},
	})

	// A delayed event from T-1h must not regress the record.
	payload, header := signed(t, webhook.Event{
		EventID:   "evt_stale_3",
		Type:      webhook.TypeUpdated,
		Timestamp: now.Add(-time.Hour),
		Data: webhook.Data{
			SubscriptionID: "sub_prov_stale",
			PlanID:         "price_starter_m",
			UserID:         "user_stale",
			Status:         subscription.StatusActive,
		},
	})
	if err := eng.ProcessEvent(ctx, payload, header); !errors.Is(err, entitle.ErrStaleEvent) {
		t.Fatalf("got %v, want ErrStaleEvent", err)
	}

	sub, err := eng.GetSubscriptionByUser(ctx, "user_stale")
	if err != nil {
		t.Fatal(err)
	}
	if sub.ProviderPlanID != "price_elite_m" {
		t.Fatalf("plan = %q, stale event regressed state", sub.ProviderPlanID)
	}

	// And the stale event ID is remembered: redelivery is a duplicate now.
	if err := eng.ProcessEvent(ctx, payload, webhook.Sign(payload, secret, time.Now())); !errors.Is(err, entitle.ErrDuplicateEvent) {
		t.Fatalf("got %v, want ErrDuplicateEvent on stale redelivery", err)
	}
}

func TestConcurrentDeliverySerialized(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	deliver(t, eng, created("evt_conc_1", "sub_prov_conc", "user_conc", "price_pro_m", base, func(d *webhook.Data) {
		d.CurrentPeriodEnd = base.Add(30 * 24 * time.Hour)
	}))

	// Pre-sign every payload on the test goroutine; the workers below only
	// deliver.
	type delivery struct {
		payload []byte
		header  string
	}
	var deliveries []delivery
	add := func(evt webhook.Event) {
		payload, header := signed(t, evt)
		deliveries = append(deliveries, delivery{payload, header})
	}

	// 16 replays of the create, 8 stale payment failures, and one genuine
	// payment success, all racing for the same subscription.
	for i := 0; i < 16; i++ {
		add(created("evt_conc_1", "sub_prov_conc", "user_conc", "price_pro_m", base, nil))
	}
	for i := 0; i < 8; i++ {
		add(webhook.Event{
			EventID:   fmt.Sprintf("evt_conc_fail_%d", i),
			Type:      webhook.TypePaymentFailed,
			Timestamp: base.Add(-time.Minute),
			Data:      webhook.Data{SubscriptionID: "sub_prov_conc"},
		})
	}
	paidAt := base.Add(time.Minute)
	add(webhook.Event{
		EventID:   "evt_conc_paid",
		Type:      webhook.TypePaymentSucceeded,
		Timestamp: paidAt,
		Data:      webhook.Data{SubscriptionID: "sub_prov_conc"},
	})

	var wg sync.WaitGroup
	errs := make(chan error, len(deliveries))
	for _, d := range deliveries {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()
			if err := eng.ProcessEvent(ctx, d.payload, d.header); err != nil && !entitle.IsDiscard(err) {
				errs <- err
			}
		}(d)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent delivery failed: %v", err)
	}

	// Replays are duplicates, stale failures are discarded, and the payment
	// success lands regardless of interleaving.
	sub, err := eng.GetSubscriptionByUser(ctx, "user_conc")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive {
		t.Errorf("status = %s, want active after replay storm", sub.Status)
	}
	if !sub.LastEventAt.Equal(paidAt) {
		t.Errorf("last event at = %v, want %v", sub.LastEventAt, paidAt)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	trialEnd := now.Add(14 * 24 * time.Hour)

	deliver(t, eng, created("evt_life_1", "sub_prov_life", "user_life", "price_pro_m", now, func(d *webhook.Data) {
		d.Status = subscription.StatusTrialing
		d.TrialEndsAt = &trialEnd
		d.CurrentPeriodEnd = trialEnd
	}))

	ent, err := eng.Entitlement(ctx, "user_life")
	if err != nil {
		t.Fatal(err)
	}
	if !ent.IsTrialing || ent.Tier != feature.TierProfessional {
		t.Fatalf("trial entitlement = %+v, want trialing Professional", ent)
	}
	if ent.TrialDaysRemaining != 14 {
		t.Fatalf("TrialDaysRemaining = %d, want 14", ent.TrialDaysRemaining)
	}
	if !ent.HasFeature(feature.KeyValuationReports) || !ent.HasFeature(feature.KeyDealBrowse) {
		t.Fatal("trial should grant the full Professional set, inherited keys included")
	}

	// Trial converts: payment succeeds, period advances.
	periodEnd := now.Add(30 * 24 * time.Hour)
	deliver(t, eng, webhook.Event{
		EventID:   "evt_life_2",
		Type:      webhook.TypePaymentSucceeded,
		Timestamp: now.Add(time.Minute),
		Data: webhook.Data{
			SubscriptionID:   "sub_prov_life",
			CurrentPeriodEnd: periodEnd,
		},
	})

	sub, err := eng.GetSubscriptionByUser(ctx, "user_life")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive {
		t.Fatalf("status = %q after payment, want active", sub.Status)
	}

	ent, _ = eng.Entitlement(ctx, "user_life")
	if ent.IsTrialing || !ent.IsActive || ent.Tier != feature.TierProfessional {
		t.Fatalf("entitlement after conversion = %+v", ent)
	}

	// Payment fails: past_due, but the grace window keeps the tier.
	deliver(t, eng, webhook.Event{
		EventID:   "evt_life_3",
		Type:      webhook.TypePaymentFailed,
		Timestamp: now.Add(2 * time.Minute),
		Data:      webhook.Data{SubscriptionID: "sub_prov_life"},
	})

	ent, _ = eng.Entitlement(ctx, "user_life")
	if !ent.IsActive || ent.Tier != feature.TierProfessional {
		t.Fatalf("entitlement during grace = %+v, want Professional", ent)
	}

	// Immediate cancel.
	deliver(t, eng, webhook.Event{
		EventID:   "evt_life_4",
		Type:      webhook.TypeCanceled,
		Timestamp: now.Add(3 * time.Minute),
		Data:      webhook.Data{SubscriptionID: "sub_prov_life"},
	})

	sub, _ = eng.GetSubscriptionByUser(ctx, "user_life")
	if sub.Status != subscription.StatusCanceled {
		t.Fatalf("status = %q after cancel, want canceled", sub.Status)
	}

	// Canceled mid-period keeps prepaid access until the period end.
	ent, _ = eng.Entitlement(ctx, "user_life")
	if !ent.IsActive || ent.Tier != feature.TierProfessional {
		t.Fatalf("entitlement after mid-period cancel = %+v, want Professional until period end", ent)
	}
}

func TestCancelAtPeriodEndKeepsAccess(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	deliver(t, eng, created("evt_cape_1", "sub_prov_cape", "user_cape", "price_starter_m", now, func(d *webhook.Data) {
		d.CurrentPeriodEnd = now.Add(20 * 24 * time.Hour)
	}))
	deliver(t, eng, webhook.Event{
		EventID:   "evt_cape_2",
		Type:      webhook.TypeCanceled,
		Timestamp: now.Add(time.Minute),
		Data: webhook.Data{
			SubscriptionID:    "sub_prov_cape",
			CancelAtPeriodEnd: true,
		},
	})

	sub, err := eng.GetSubscriptionByUser(ctx, "user_cape")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive || !sub.CancelAtPeriodEnd {
		t.Fatalf("got status=%q cancelAtPeriodEnd=%v, want active/true", sub.Status, sub.CancelAtPeriodEnd)
	}

	ent, _ := eng.Entitlement(ctx, "user_cape")
	if !ent.IsActive || ent.Tier != feature.TierStarter {
		t.Fatalf("entitlement = %+v, want Starter until period end", ent)
	}
}

func TestDeferredDowngrade(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Period end already behind us so the sweep can apply the downgrade
	// without waiting.
	deliver(t, eng, created("evt_down_1", "sub_prov_down", "user_down", "price_pro_m", now, func(d *webhook.Data) {
		d.CurrentPeriodEnd = now.Add(-time.Minute)
	}))
	deliver(t, eng, webhook.Event{
		EventID:   "evt_down_2",
		Type:      webhook.TypeUpdated,
		Timestamp: now.Add(time.Second),
		Data: webhook.Data{
			SubscriptionID: "sub_prov_down",
			PlanID:         "price_starter_m",
			UserID:         "user_down",
			Status:         subscription.StatusActive,
		},
	})

	sub, err := eng.GetSubscriptionByUser(ctx, "user_down")
	if err != nil {
		t.Fatal(err)
	}
	if sub.ProviderPlanID != "price_pro_m" || sub.PendingProviderPlanID != "price_starter_m" {
		t.Fatalf("got plan=%q pending=%q, want downgrade parked as pending", sub.ProviderPlanID, sub.PendingProviderPlanID)
	}

	// The subscriber keeps the paid tier until the period end.
	ent, _ := eng.Entitlement(ctx, "user_down")
	if ent.Tier != feature.TierProfessional {
		t.Fatalf("tier = %s before period end, want Professional", ent.Tier)
	}

	eng.Sweep(ctx)

	sub, _ = eng.GetSubscriptionByUser(ctx, "user_down")
	if sub.ProviderPlanID != "price_starter_m" || sub.PendingProviderPlanID != "" {
		t.Fatalf("got plan=%q pending=%q after sweep, want starter applied", sub.ProviderPlanID, sub.PendingProviderPlanID)
	}

	ent, _ = eng.Entitlement(ctx, "user_down")
	if ent.Tier != feature.TierStarter {
		t.Fatalf("tier = %s after sweep, want Starter", ent.Tier)
	}
	if ent.HasFeature(feature.KeyValuationReports) {
		t.Fatal("Professional-only feature survived the downgrade")
	}
}

func TestImmediateDowngrade(t *testing.T) {
	eng := newEngine(t, entitle.WithImmediateDowngrade())
	ctx := context.Background()
	now := time.Now().UTC()

	deliver(t, eng, created("evt_imm_1", "sub_prov_imm", "user_imm", "price_pro_m", now, nil))
	deliver(t, eng, webhook.Event{
		EventID:   "evt_imm_2",
		Type:      webhook.TypeUpdated,
		Timestamp: now.Add(time.Second),
		Data: webhook.Data{
			SubscriptionID: "sub_prov_imm",
			PlanID:         "price_starter_m",
			UserID:         "user_imm",
			Status:         subscription.StatusActive,
		},
	})

	sub, err := eng.GetSubscriptionByUser(ctx, "user_imm")
	if err != nil {
		t.Fatal(err)
	}
	if sub.ProviderPlanID != "price_starter_m" || sub.PendingProviderPlanID != "" {
		t.Fatalf("got plan=%q pending=%q, want immediate starter", sub.ProviderPlanID, sub.PendingProviderPlanID)
	}
}

func TestUpgradeAppliesImmediately(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	deliver(t, eng, created("evt_up_1", "sub_prov_up", "user_up", "price_starter_m", now, nil))
	deliver(t, eng, webhook.Event{
		EventID:   "evt_up_2",
		Type:      webhook.TypeUpdated,
		Timestamp: now.Add(time.Second),
		Data: webhook.Data{
			SubscriptionID: "sub_prov_up",
			PlanID:         "price_elite_m",
			UserID:         "user_up",
			Status:         subscription.StatusActive,
		},
	})

	ent, err := eng.Entitlement(ctx, "user_up")
	if err != nil {
		t.Fatal(err)
	}
	if ent.Tier != feature.TierElite {
		t.Fatalf("tier = %s, upgrades must never be deferred", ent.Tier)
	}
	if !ent.HasFeature(feature.KeyOffMarketDeals) {
		t.Fatal("Elite feature missing after upgrade")
	}
}

func TestSweepExpiresLapsed(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	endedTrial := now.Add(-time.Hour)

	deliver(t, eng, created("evt_sweep_1", "sub_prov_sweep", "user_sweep", "price_pro_m", now.Add(-15*24*time.Hour), func(d *webhook.Data) {
		d.Status = subscription.StatusTrialing
		d.TrialEndsAt = &endedTrial
		d.CurrentPeriodEnd = endedTrial
	}))

	// The resolver already degrades an ended trial; the sweep makes the
	// stored record agree. Capture the ID first: once expired, the
	// user-keyed lookup filters the record out.
	before, err := eng.GetSubscriptionByUser(ctx, "user_sweep")
	if err != nil {
		t.Fatal(err)
	}
	ent, _ := eng.Entitlement(ctx, "user_sweep")
	if ent.IsActive || ent.Tier != feature.TierFree {
		t.Fatalf("entitlement = %+v before sweep, want inactive Free", ent)
	}

	eng.Sweep(ctx)

	sub, err := eng.GetSubscription(ctx, before.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusExpired {
		t.Fatalf("status = %q after sweep, want expired", sub.Status)
	}
	if _, err := eng.GetSubscriptionByUser(ctx, "user_sweep"); !entitle.IsNotFound(err) {
		t.Fatalf("expired record still resolves by user: %v", err)
	}
}

func TestCacheInvalidatedOnTransition(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	deliver(t, eng, created("evt_cache_1", "sub_prov_cache", "user_cache", "price_pro_m", now, func(d *webhook.Data) {
		d.CurrentPeriodEnd = now.Add(-time.Minute)
	}))

	// Prime the cache.
	ent, err := eng.Entitlement(ctx, "user_cache")
	if err != nil {
		t.Fatal(err)
	}
	if ent.Tier != feature.TierProfessional {
		t.Fatalf("tier = %s, want Professional", ent.Tier)
	}

	// Immediate cancel with the period end already past: next resolve must
	// see Free, not the cached Professional.
	deliver(t, eng, webhook.Event{
		EventID:   "evt_cache_2",
		Type:      webhook.TypeCanceled,
		Timestamp: now.Add(time.Second),
		Data:      webhook.Data{SubscriptionID: "sub_prov_cache"},
	})

	ent, _ = eng.Entitlement(ctx, "user_cache")
	if ent.IsActive || ent.Tier != feature.TierFree {
		t.Fatalf("entitlement = %+v after cancel, cache was not invalidated", ent)
	}
}

func TestHasFeature(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	deliver(t, eng, created("evt_has_1", "sub_prov_has", "user_has", "price_starter_m", now, nil))

	if !eng.HasFeature(ctx, "user_has", feature.KeyDealPipeline) {
		t.Fatal("Starter should grant deal pipeline")
	}
	if eng.HasFeature(ctx, "user_has", feature.KeyAPIAccess) {
		t.Fatal("Starter must not grant Enterprise features")
	}
	if eng.HasFeature(ctx, "user_has", feature.Key("no_such_feature")) {
		t.Fatal("unknown keys must fail closed")
	}
	if eng.HasFeature(ctx, "user_nobody", feature.KeyDealPipeline) {
		t.Fatal("deal pipeline is not a Free feature")
	}
	if !eng.HasFeature(ctx, "user_nobody", feature.KeyDealBrowse) {
		t.Fatal("users without a subscription still get the Free set")
	}
}

func TestUpdateBeforeCreate(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Out-of-order: the update arrives first. The snapshot it carries is
	// enough to build the record; the late create is then stale.
	deliver(t, eng, webhook.Event{
		EventID:   "evt_ooo_2",
		Type:      webhook.TypeUpdated,
		Timestamp: now.Add(time.Minute),
		Data: webhook.Data{
			SubscriptionID: "sub_prov_ooo",
			PlanID:         "price_pro_m",
			UserID:         "user_ooo",
			Status:         subscription.StatusActive,
		},
	})

	payload, header := signed(t, created("evt_ooo_1", "sub_prov_ooo", "user_ooo", "price_starter_m", now, nil))
	if err := eng.ProcessEvent(ctx, payload, header); !errors.Is(err, entitle.ErrStaleEvent) {
		t.Fatalf("got %v, want ErrStaleEvent for the late create", err)
	}

	sub, err := eng.GetSubscriptionByUser(ctx, "user_ooo")
	if err != nil {
		t.Fatal(err)
	}
	if sub.ProviderPlanID != "price_pro_m" {
		t.Fatalf("plan = %q, late create overwrote newer state", sub.ProviderPlanID)
	}
}

// deadlineStore fails reads once the caller's context has expired, the way a
// real database driver would.
type deadlineStore struct {
	store.Store
}

func (s deadlineStore) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.WasProcessed(ctx, eventID)
}

func TestDeadlineDefersToRetryWorker(t *testing.T) {
	eng := entitle.New(deadlineStore{memory.New()}, entitle.WithSigningSecret(secret))
	ctx := context.Background()

	p := &plan.Plan{ProviderPlanID: "price_pro_m", Name: "Professional Monthly", Tier: feature.TierProfessional, Interval: plan.IntervalMonthly, BasePrice: entitle.USD(9900)}
	if err := eng.RegisterPlan(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			t.Fatal(err)
		}
	}()

	payload, header := signed(t, created("evt_ret_1", "sub_prov_ret", "user_ret", "price_pro_m", time.Now().UTC(), nil))

	// The caller's budget is already spent, but the provider still gets an
	// ack; the event moves to the retry buffer instead.
	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	if err := eng.ProcessEvent(expired, payload, header); err != nil {
		t.Fatalf("deadline-hit delivery should be acknowledged, got %v", err)
	}

	// The retry worker reapplies the event with a fresh context.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sub, err := eng.GetSubscriptionByUser(ctx, "user_ret")
		if err == nil {
			if sub.Status != subscription.StatusActive {
				t.Fatalf("status = %s, want active", sub.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry worker never applied the deferred event")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRetryQueueFull(t *testing.T) {
	// Worker not started: the single buffer slot fills on the first
	// deferred event and the second delivery bounces as retryable.
	eng := entitle.New(deadlineStore{memory.New()},
		entitle.WithSigningSecret(secret),
		entitle.WithRetryQueueSize(1),
	)
	ctx := context.Background()

	p := &plan.Plan{ProviderPlanID: "price_pro_m", Name: "Professional Monthly", Tier: feature.TierProfessional, Interval: plan.IntervalMonthly, BasePrice: entitle.USD(9900)}
	if err := eng.RegisterPlan(ctx, p); err != nil {
		t.Fatal(err)
	}

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()

	payload, header := signed(t, created("evt_full_1", "sub_prov_full_1", "user_full", "price_pro_m", time.Now().UTC(), nil))
	if err := eng.ProcessEvent(expired, payload, header); err != nil {
		t.Fatalf("first deferred event should be acknowledged, got %v", err)
	}

	payload, header = signed(t, created("evt_full_2", "sub_prov_full_2", "user_full", "price_pro_m", time.Now().UTC(), nil))
	err := eng.ProcessEvent(expired, payload, header)
	if !errors.Is(err, entitle.ErrRetryQueueFull) {
		t.Fatalf("got %v, want ErrRetryQueueFull", err)
	}
	if !entitle.IsRetryable(err) {
		t.Error("a full retry queue should classify as retryable")
	}
}

func TestEngineStartStop(t *testing.T) {
	eng := newEngine(t, entitle.WithSweepInterval(time.Hour))
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := eng.Stop(); err != nil {
		t.Fatal(err)
	}
}
