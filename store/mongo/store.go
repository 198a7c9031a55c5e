package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/webhook"
)

// Collection name constants.
const (
	colPlans           = "entitle_plans"
	colSubscriptions   = "entitle_subscriptions"
	colProcessedEvents = "entitle_processed_events"
	colDeadLetters     = "entitle_dead_letters"
	colEntitlements    = "entitle_entitlement_cache"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitle collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrDuplicatePlan
		}
		return fmt.Errorf("entitle/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrUnknownPlan
		}
		return nil, fmt.Errorf("entitle/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanByProvider(ctx context.Context, providerPlanID string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider_plan_id": providerPlanID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrUnknownPlan
		}
		return nil, fmt.Errorf("entitle/mongo: get plan by provider: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "provider_plan_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrUnknownPlan
	}
	return nil
}

func (s *Store) DeactivatePlan(ctx context.Context, planID id.PlanID) error {
	t := now()
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": planID.String()}).
		Set("active", false).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: deactivate plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrUnknownPlan
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"provider_id": m.ProviderID}).
		SetUpdate(bson.M{"$set": bson.M{
			"_id":                      m.ID,
			"provider_id":              m.ProviderID,
			"user_id":                  m.UserID,
			"provider_plan_id":         m.ProviderPlanID,
			"pending_provider_plan_id": m.PendingProviderPlanID,
			"status":                   m.Status,
			"current_period_end":       m.CurrentPeriodEnd,
			"trial_ends_at":            m.TrialEndsAt,
			"cancel_at_period_end":     m.CancelAtPeriodEnd,
			"last_event_at":            m.LastEventAt,
			"created_at":               m.CreatedAt,
			"updated_at":               m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscriptionByProvider(ctx context.Context, providerID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider_id": providerID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription by provider: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"user_id": userID,
			"status":  bson.M{"$ne": string(subscription.StatusExpired)},
		}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription by user: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{}
	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) ListDueSubscriptions(ctx context.Context, t time.Time, graceWindow time.Duration) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"$or": bson.A{
		bson.M{
			"status":        string(subscription.StatusTrialing),
			"trial_ends_at": bson.M{"$ne": nil, "$lte": t},
		},
		bson.M{
			"status": string(subscription.StatusActive),
			"$or": bson.A{
				bson.M{"cancel_at_period_end": true},
				bson.M{"pending_provider_plan_id": bson.M{"$ne": ""}},
			},
			"current_period_end": bson.M{"$lte": t},
		},
		bson.M{
			"status":             string(subscription.StatusPastDue),
			"current_period_end": bson.M{"$lte": t.Add(-graceWindow)},
		},
		bson.M{
			"status":             string(subscription.StatusCanceled),
			"current_period_end": bson.M{"$lte": t},
		},
	}}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "current_period_end", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list due subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Event-ledger Store ====================

func (s *Store) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	m := &processedEventModel{EventID: eventID, ProcessedAt: at}
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		// Duplicate inserts are fine: at-least-once delivery means the same
		// event may be marked twice.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("entitle/mongo: mark processed: %w", err)
	}
	return nil
}

func (s *Store) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	var m processedEventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": eventID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return false, nil
		}
		return false, fmt.Errorf("entitle/mongo: was processed: %w", err)
	}
	return true, nil
}

// ==================== Dead-letter Store ====================

func (s *Store) CreateDeadLetter(ctx context.Context, dl *webhook.DeadLetter) error {
	m := toDeadLetterModel(dl)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: create dead letter: %w", err)
	}
	return nil
}

func (s *Store) ListDeadLetters(ctx context.Context, limit, offset int) ([]*webhook.DeadLetter, error) {
	var models []deadLetterModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "received_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if offset > 0 {
		q = q.Skip(int64(offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list dead letters: %w", err)
	}

	result := make([]*webhook.DeadLetter, len(models))
	for i := range models {
		dl, err := fromDeadLetterModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = dl
	}
	return result, nil
}

// ==================== Entitlement Cache Store ====================

func (s *Store) GetCached(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	var m entitlementCacheModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"_id":        userID,
			"expires_at": bson.M{"$gt": time.Now().UTC()},
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrCacheMiss
		}
		return nil, fmt.Errorf("entitle/mongo: get cached: %w", err)
	}
	return fromEntitlementCacheModel(&m)
}

func (s *Store) SetCached(ctx context.Context, userID string, e *entitlement.Entitlement, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	m := toEntitlementCacheModel(userID, e, expiresAt)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.UserID}).
		SetUpdate(bson.M{"$set": bson.M{
			"_id":                  m.UserID,
			"tier":                 m.Tier,
			"features":             m.Features,
			"is_trialing":          m.IsTrialing,
			"trial_days_remaining": m.TrialDaysRemaining,
			"is_active":            m.IsActive,
			"reason":               m.Reason,
			"expires_at":           m.ExpiresAt,
			"created_at":           m.CreatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: set cached: %w", err)
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, userID string) error {
	_, err := s.mdb.NewDelete((*entitlementCacheModel)(nil)).
		Filter(bson.M{"_id": userID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: invalidate: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all entitle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "provider_plan_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "active", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "provider_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}}},
		},
		colProcessedEvents: {
			{Keys: bson.D{{Key: "processed_at", Value: 1}}},
		},
		colDeadLetters: {
			{Keys: bson.D{{Key: "received_at", Value: 1}}},
		},
		colEntitlements: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
	}
}
