package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how old a signed timestamp may be before the
// signature is rejected, limiting replay of captured payloads.
const DefaultTolerance = 5 * time.Minute

// Sign computes a signature header for payload at time t using the shared
// secret: "t=<unix>,v1=<hex hmac-sha256 of "<unix>.<payload>">". Intended
// for tests and provider simulators.
func Sign(payload, secret []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	mac := computeMAC(payload, secret, ts)
	return fmt.Sprintf("t=%s,v1=%s", ts, mac)
}

// Verify checks a signature header against the payload using the shared
// secret. The header carries a unix timestamp and one or more v1 signatures;
// verification succeeds if any v1 entry matches (constant-time compare) and
// the timestamp is within tolerance of now.
func Verify(payload []byte, header string, secret []byte, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	if len(secret) == 0 {
		return fmt.Errorf("%w: no signing secret configured", ErrInvalidSignature)
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: unparseable signature header", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, ts)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}

	expected := computeMAC(payload, secret, ts)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// computeMAC signs "<timestamp>.<payload>" so the timestamp cannot be
// swapped without invalidating the signature.
func computeMAC(payload, secret []byte, ts string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
