package sqlite

import (
	"encoding/json"
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

	ID                string            `grove:"id,pk"`
	ProviderPlanID    string            `grove:"provider_plan_id"`
	Name              string            `grove:"name"`
	Tier              string            `grove:"tier"`
	Interval          string            `grove:"interval"`
	BasePriceCents    int64             `grove:"base_price_cents"`
	BasePriceCurrency string            `grove:"base_price_currency"`
	TrialDays         int               `grove:"trial_days"`
	AnnualDiscount    bool              `grove:"annual_discount"`
	Active            bool              `grove:"active"`
	Metadata          map[string]string `grove:"metadata,type:json"`
	CreatedAt         time.Time         `grove:"created_at"`
	UpdatedAt         time.Time         `grove:"updated_at"`
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

	ID                    string     `grove:"id,pk"`
	ProviderID            string     `grove:"provider_id"`
	UserID                string     `grove:"user_id"`
	ProviderPlanID        string     `grove:"provider_plan_id"`
	PendingProviderPlanID string     `grove:"pending_provider_plan_id"`
	Status                string     `grove:"status"`
	CurrentPeriodEnd      time.Time  `grove:"current_period_end"`
	TrialEndsAt           *time.Time `grove:"trial_ends_at"`
	CancelAtPeriodEnd     bool       `grove:"cancel_at_period_end"`
	LastEventAt           time.Time  `grove:"last_event_at"`
	CreatedAt             time.Time  `grove:"created_at"`
	UpdatedAt             time.Time  `grove:"updated_at"`
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

	EventID     string    `grove:"event_id,pk"`
	ProcessedAt time.Time `grove:"processed_at"`
}

// ==================== Dead-letter models ====================

type deadLetterModel struct {
	grove.BaseModel `grove:"table:entitle_dead_letters"`

	ID         string          `grove:"id,pk"`
	EventID    string          `grove:"event_id"`
	Payload    json.RawMessage `grove:"payload,type:json"`
	Reason     string          `grove:"reason"`
	ReceivedAt time.Time       `grove:"received_at"`
}

func toDeadLetterModel(dl *webhook.DeadLetter) *deadLetterModel {
	return &deadLetterModel{
		ID:         dl.ID.String(),
		EventID:    dl.EventID,
		Payload:    dl.Payload,
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
		Payload:    m.Payload,
		Reason:     m.Reason,
		ReceivedAt: m.ReceivedAt,
	}, nil
}

// ==================== Entitlement Cache models ====================

type entitlementCacheModel struct {
	grove.BaseModel `grove:"table:entitle_entitlement_cache"`

	UserID             string          `grove:"user_id,pk"`
	Tier               string          `grove:"tier"`
	Features           json.RawMessage `grove:"features,type:json"`
	IsTrialing         bool            `grove:"is_trialing"`
	TrialDaysRemaining int             `grove:"trial_days_remaining"`
	IsActive           bool            `grove:"is_active"`
	Reason             string          `grove:"reason"`
	ExpiresAt          time.Time       `grove:"expires_at"`
	CreatedAt          time.Time       `grove:"created_at"`
}

func toEntitlementCacheModel(userID string, e *entitlement.Entitlement, expiresAt time.Time) *entitlementCacheModel {
	features, _ := json.Marshal(e.Features) //nolint:errcheck // best-effort

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

	var features []feature.Key
	if len(m.Features) > 0 {
		_ = json.Unmarshal(m.Features, &features) //nolint:errcheck // best-effort
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
