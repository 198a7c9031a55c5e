package webhook

import (
	"errors"
	"testing"
	"time"
)

func validEvent() *Event {
	return &Event{
		EventID:   "evt_prov_001",
		Type:      TypeCreated,
		Timestamp: time.Now().UTC(),
		Data: Data{
			SubscriptionID:   "sub_prov_001",
			PlanID:           "price_pro_monthly",
			UserID:           "user_001",
			Status:           "trialing",
			CurrentPeriodEnd: time.Now().UTC().Add(30 * 24 * time.Hour),
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		wantOK bool
	}{
		{"valid created", func(e *Event) {}, true},
		{"missing event id", func(e *Event) { e.EventID = "" }, false},
		{"unknown type", func(e *Event) { e.Type = "subscription.teleported" }, false},
		{"zero timestamp", func(e *Event) { e.Timestamp = time.Time{} }, false},
		{"missing subscription id", func(e *Event) { e.Data.SubscriptionID = "" }, false},
		{"missing user on created", func(e *Event) { e.Data.UserID = "" }, false},
		{"missing plan on updated", func(e *Event) { e.Type = TypeUpdated; e.Data.PlanID = "" }, false},
		{"unknown status", func(e *Event) { e.Data.Status = "hibernating" }, false},
		{"payment event without plan", func(e *Event) {
			e.Type = TypePaymentFailed
			e.Data.PlanID = ""
			e.Data.UserID = ""
		}, true},
		{"advisory event without plan", func(e *Event) {
			e.Type = TypeTrialWillEnd
			e.Data.PlanID = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)

			err := e.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate: unexpected error %v", err)
			}
			if !tt.wantOK {
				if err == nil {
					t.Fatal("Validate: expected error, got nil")
				}
				if !errors.Is(err, ErrMalformedPayload) {
					t.Errorf("error %v should wrap ErrMalformedPayload", err)
				}
			}
		})
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("Parse garbage = %v, want ErrMalformedPayload", err)
	}
}

func TestParseRoundTrip(t *testing.T) {
	payload := []byte(`{
		"event_id": "evt_42",
		"event_type": "subscription.updated",
		"timestamp": "2026-03-01T12:00:00Z",
		"data": {
			"subscription_id": "sub_prov_9",
			"plan_id": "price_ent_annual",
			"user_id": "user_9",
			"status": "active",
			"current_period_end": "2027-03-01T12:00:00Z",
			"cancel_at_period_end": true
		}
	}`)

	e, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Type != TypeUpdated {
		t.Errorf("Type = %q", e.Type)
	}
	if !e.Data.CancelAtPeriodEnd {
		t.Error("CancelAtPeriodEnd should be true")
	}
	if e.Data.CurrentPeriodEnd.Year() != 2027 {
		t.Errorf("CurrentPeriodEnd = %v", e.Data.CurrentPeriodEnd)
	}
}
