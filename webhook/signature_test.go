package webhook

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("whsec_test_secret")

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"event_id":"evt_1"}`)
	now := time.Now()

	header := Sign(payload, testSecret, now)
	if err := Verify(payload, header, testSecret, DefaultTolerance, now); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejections(t *testing.T) {
	payload := []byte(`{"event_id":"evt_1"}`)
	now := time.Now()
	good := Sign(payload, testSecret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  []byte
		now     time.Time
		want    error
	}{
		{"missing header", payload, "", testSecret, now, ErrInvalidSignature},
		{"no secret", payload, good, nil, now, ErrInvalidSignature},
		{"wrong secret", payload, good, []byte("other"), now, ErrInvalidSignature},
		{"tampered payload", []byte(`{"event_id":"evt_2"}`), good, testSecret, now, ErrInvalidSignature},
		{"garbage header", payload, "nonsense", testSecret, now, ErrInvalidSignature},
		{"missing v1", payload, "t=123", testSecret, now, ErrInvalidSignature},
		{"expired timestamp", payload, good, testSecret, now.Add(10 * time.Minute), ErrSignatureExpired},
		{"future timestamp", payload, Sign(payload, testSecret, now.Add(10*time.Minute)), testSecret, now, ErrSignatureExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.payload, tt.header, tt.secret, DefaultTolerance, tt.now)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyAcceptsExtraSignatures(t *testing.T) {
	// Providers send multiple v1 entries during secret rotation; any match
	// must be accepted.
	payload := []byte(`{"event_id":"evt_1"}`)
	now := time.Now()

	good := Sign(payload, testSecret, now)
	withRotated := "v1=deadbeef," + good
	if err := Verify(payload, withRotated, testSecret, DefaultTolerance, now); err != nil {
		t.Fatalf("Verify with extra v1: %v", err)
	}
}

func TestVerifyZeroToleranceSkipsAgeCheck(t *testing.T) {
	payload := []byte(`{}`)
	old := time.Now().Add(-24 * time.Hour)

	header := Sign(payload, testSecret, old)
	if err := Verify(payload, header, testSecret, 0, time.Now()); err != nil {
		t.Fatalf("Verify with zero tolerance: %v", err)
	}
}
