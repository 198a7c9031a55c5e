package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
	"github.com/xraph/entitle/webhook"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:entitle_plans"`

	ID                string            `grove:"id,pk"               bson:"_id"`
	ProviderPlanID    string            `grove:"provider_plan_id"    bson:"provider_plan_id"`
	Name              string            `grove:"name"                bson:"name"`
	Tier              string            `grove:"tier"                bson:"tier"`
	Interval          string            `grove:"interval"            bson:"interval"`
	BasePriceCents    int64             `grove:"base_price_cents"    bson:"base_price_cents"`
	BasePriceCurrency string            `grove:"base_price_currency" bson:"base_price_currency"`
	TrialDays         int               `grove:"trial_days"          bson:"trial_days"`
	AnnualDiscount    bool              `grove:"annual_discount"     bson:"annual_discount"`
	Active            bool              `grove:"active"              bson:"active"`
	Metadata          map[string]string `grove:"metadata"            bson:"metadata,omitempty"`
	CreatedAt         time.Time         `grove:"created_at"          bson:"created_at"`
	UpdatedAt         time.Time         `grove:"updated_at"          bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:                p.ID.String(),
		ProviderPlanID:    p.ProviderPlanID,
		Name:              p.Name,
		Tier:              p.Tier.String(),
		Interval:          string(p.Interval),
		BasePriceCents:    p.BasePrice.Amount,
		BasePriceCurrency: p.BasePrice.Currency,
		TrialDays:         p.TrialDays,
		AnnualDiscount:    p.AnnualDiscount,
		Active:            p.Active,
		Metadata:          p.Metadata,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	tier, err := feature.ParseTier(m.Tier)
	if err != nil {
		return nil, err
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             planID,
		ProviderPlanID: m.ProviderPlanID,
		Name:           m.Name,
		Tier:           tier,
		Interval:       plan.Interval(m.Interval),
		BasePrice:      types.Money{Amount: m.BasePriceCents, Currency: m.BasePriceCurrency},
		TrialDays:      m.TrialDays,
		AnnualDiscount: m.AnnualDiscount,
		Active:         m.Active,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID                    string     `grove:"id,pk"                    bson:"_id"`
	ProviderID            string     `grove:"provider_id"              bson:"provider_id"`
	UserID                string     `grove:"user_id"                  bson:"user_id"`
	ProviderPlanID        string     `grove:"provider_plan_id"         bson:"provider_plan_id"`
	PendingProviderPlanID string     `grove:"pending_provider_plan_id" bson:"pending_provider_plan_id"`
	Status                string     `grove:"status"                   bson:"status"`
	CurrentPeriodEnd      time.Time  `grove:"current_period_end"       bson:"current_period_end"`
	TrialEndsAt           *time.Time `grove:"trial_ends_at"            bson:"trial_ends_at,omitempty"`
	CancelAtPeriodEnd     bool       `grove:"cancel_at_period_end"     bson:"cancel_at_period_end"`
	LastEventAt           time.Time  `grove:"last_event_at"            bson:"last_event_at"`
	CreatedAt             time.Time  `grove:"created_at"               bson:"created_at"`
	UpdatedAt             time.Time  `grove:"updated_at"               bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                    s.ID.String(),
		ProviderID:            s.ProviderID,
		UserID:                s.UserID,
		ProviderPlanID:        s.ProviderPlanID,
		PendingProviderPlanID: s.PendingProviderPlanID,
		Status:                string(s.Status),
		CurrentPeriodEnd:      s.CurrentPeriodEnd,
		TrialEndsAt:           s.TrialEndsAt,
		CancelAtPeriodEnd:     s.CancelAtPeriodEnd,
		LastEventAt:           s.LastEventAt,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                    subID,
		ProviderID:            m.ProviderID,
		UserID:                m.UserID,
		ProviderPlanID:        m.ProviderPlanID,
		PendingProviderPlanID: m.PendingProviderPlanID,
		Status:                subscription.Status(m.Status),
		CurrentPeriodEnd:      m.CurrentPeriodEnd,
		TrialEndsAt:           m.TrialEndsAt,
		CancelAtPeriodEnd:     m.CancelAtPeriodEnd,
		LastEventAt:           m.LastEventAt,
	}, nil
}

// ==================== Processed-event models ====================

type processedEventModel struct {
	grove.BaseModel `grove:"table:entitle_processed_events"`

	EventID     string    `grove:"event_id,pk"  bson:"_id"`
	ProcessedAt time.Time `grove:"processed_at" bson:"processed_at"`
}

// ==================== Dead-letter models ====================

type deadLetterModel struct {
	grove.BaseModel `grove:"table:entitle_dead_letters"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	EventID    string    `grove:"event_id"    bson:"event_id"`
	Payload    string    `grove:"payload"     bson:"payload"`
	Reason     string    `grove:"reason"      bson:"reason"`
	ReceivedAt time.Time `grove:"received_at" bson:"received_at"`
}

func toDeadLetterModel(dl *webhook.DeadLetter) *deadLetterModel {
	return &deadLetterModel{
		ID:         dl.ID.String(),
		EventID:    dl.EventID,
		Payload:    string(dl.Payload),
		Reason:     dl.Reason,
		ReceivedAt: dl.ReceivedAt,
	}
}

func fromDeadLetterModel(m *deadLetterModel) (*webhook.DeadLetter, error) {
	dlID, err := id.ParseDeadLetterID(m.ID)
	if err != nil {
		return nil, err
	}

	return &webhook.DeadLetter{
		ID:         dlID,
		EventID:    m.EventID,
		Payload:    []byte(m.Payload),
		Reason:     m.Reason,
		ReceivedAt: m.ReceivedAt,
	}, nil
}

// ==================== Entitlement Cache models ====================

type entitlementCacheModel struct {
	grove.BaseModel `grove:"table:entitle_entitlement_cache"`

	UserID             string    `grove:"user_id,pk"           bson:"_id"`
	Tier               string    `grove:"tier"                 bson:"tier"`
	Features           []string  `grove:"features"             bson:"features"`
	IsTrialing         bool      `grove:"is_trialing"          bson:"is_trialing"`
	TrialDaysRemaining int       `grove:"trial_days_remaining" bson:"trial_days_remaining"`
	IsActive           bool      `grove:"is_active"            bson:"is_active"`
	Reason             string    `grove:"reason"               bson:"reason"`
	ExpiresAt          time.Time `grove:"expires_at"           bson:"expires_at"`
	CreatedAt          time.Time `grove:"created_at"           bson:"created_at"`
}

func toEntitlementCacheModel(userID string, e *entitlement.Entitlement, expiresAt time.Time) *entitlementCacheModel {
	features := make([]string, len(e.Features))
	for i, k := range e.Features {
		features[i] = string(k)
	}

	return &entitlementCacheModel{
		UserID:             userID,
		Tier:               e.Tier.String(),
		Features:           features,
		IsTrialing:         e.IsTrialing,
		TrialDaysRemaining: e.TrialDaysRemaining,
		IsActive:           e.IsActive,
		Reason:             e.Reason,
		ExpiresAt:          expiresAt,
		CreatedAt:          time.Now().UTC(),
	}
}

func fromEntitlementCacheModel(m *entitlementCacheModel) (*entitlement.Entitlement, error) {
	tier, err := feature.ParseTier(m.Tier)
	if err != nil {
		return nil, err
	}

	features := make([]feature.Key, len(m.Features))
	for i, k := range m.Features {
		features[i] = feature.Key(k)
	}

	return &entitlement.Entitlement{
		UserID:             m.UserID,
		Tier:               tier,
		Features:           features,
		IsTrialing:         m.IsTrialing,
		TrialDaysRemaining: m.TrialDaysRemaining,
		IsActive:           m.IsActive,
		Reason:             m.Reason,
	}, nil
}
