// Package webhook models billing-provider lifecycle events: the signed
// payload shape, field validation, and the dead-letter record for payloads
// that fail validation.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/subscription"
)

// Boundary errors. The engine re-exports these at the module root.
var (
	ErrInvalidSignature = errors.New("entitle: webhook signature verification failed")
	ErrSignatureExpired = errors.New("entitle: webhook signature timestamp outside tolerance")
	ErrMalformedPayload = errors.New("entitle: malformed webhook payload")
)

// Type identifies a provider lifecycle event. Names are abstract; map your
// provider's event names onto these when translating payloads.
type Type string

const (
	TypeCreated          Type = "subscription.created"
	TypeUpdated          Type = "subscription.updated" // covers upgrade/downgrade/renewal
	TypeCanceled         Type = "subscription.canceled"
	TypeTrialWillEnd     Type = "subscription.trial_will_end" // advisory, no state change
	TypePaymentSucceeded Type = "payment.succeeded"
	TypePaymentFailed    Type = "payment.failed"
)

// Valid reports whether the type is a known value.
func (t Type) Valid() bool {
	switch t {
	case TypeCreated, TypeUpdated, TypeCanceled, TypeTrialWillEnd,
		TypePaymentSucceeded, TypePaymentFailed:
		return true
	}
	return false
}

// Data is the subscription snapshot embedded in a provider event.
type Data struct {
	SubscriptionID    string              `json:"subscription_id"`
	PlanID            string              `json:"plan_id"`
	UserID            string              `json:"user_id"`
	Status            subscription.Status `json:"status"`
	CurrentPeriodEnd  time.Time           `json:"current_period_end"`
	TrialEndsAt       *time.Time          `json:"trial_ends_at,omitempty"`
	CancelAtPeriodEnd bool                `json:"cancel_at_period_end,omitempty"`
}

// Event is a provider lifecycle event. EventID is provider-assigned and is
// the idempotency key: webhooks are at-least-once delivery, so the same
// EventID may arrive more than once.
type Event struct {
	EventID   string    `json:"event_id"`
	Type      Type      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// Parse decodes and validates a provider event payload.
func Parse(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks required fields. Plan and status requirements vary by
// event type: payment and advisory events reference an existing
// subscription and carry no plan change.
func (e *Event) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: missing event_id", ErrMalformedPayload)
	case !e.Type.Valid():
		return fmt.Errorf("%w: unknown event_type %q", ErrMalformedPayload, e.Type)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
	case e.Data.SubscriptionID == "":
		return fmt.Errorf("%w: missing data.subscription_id", ErrMalformedPayload)
	}

	if e.Type == TypeCreated || e.Type == TypeUpdated {
		if e.Data.UserID == "" {
			return fmt.Errorf("%w: missing data.user_id", ErrMalformedPayload)
		}
		if e.Data.PlanID == "" {
			return fmt.Errorf("%w: missing data.plan_id", ErrMalformedPayload)
		}
		if e.Data.Status != "" && !e.Data.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, e.Data.Status)
		}
	}

	return nil
}

// DeadLetter holds an event payload that failed validation, kept for manual
// operator review rather than silently dropped. The provider still receives
// an acknowledgment so it stops retrying.
type DeadLetter struct {
	ID         id.DeadLetterID `json:"id"`
	EventID    string          `json:"event_id"`
	Payload    json.RawMessage `json:"payload"`
	Reason     string          `json:"reason"`
	ReceivedAt time.Time       `json:"received_at"`
}
