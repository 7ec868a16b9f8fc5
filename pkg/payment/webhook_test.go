package payment

import (
	"strings"
	"testing"
	"time"

	"fablepress/pkg/domain"
)

const testSecret = "whsec_test"

func signedPayload(t *testing.T, body string, at time.Time) ([]byte, string) {
	t.Helper()
	payload := []byte(body)
	return payload, SignPayload(payload, testSecret, at)
}

func TestParseEventRoundTrip(t *testing.T) {
	now := time.Now()
	payload, sig := signedPayload(t, `{
		"type": "session.completed",
		"sessionId": "sess_1",
		"metadata": {"orderId": "o1", "projectId": "p1", "ownerId": "u1"},
		"shippingDetails": {"name": "A Reader", "line1": "1 Book St", "city": "Springfield", "postalCode": "12345", "countryCode": "US"},
		"customerEmail": "reader@example.com"
	}`, now)

	event, err := ParseEvent(payload, sig, testSecret, now)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != EventSessionCompleted {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.Metadata["orderId"] != "o1" {
		t.Fatalf("metadata lost: %+v", event.Metadata)
	}
	if event.ShippingDetails == nil || event.ShippingDetails.CountryCode != "US" {
		t.Fatalf("shipping details lost: %+v", event.ShippingDetails)
	}
}

func TestParseEventRejectsTamperedPayload(t *testing.T) {
	now := time.Now()
	payload, sig := signedPayload(t, `{"type":"session.completed","sessionId":"sess_1"}`, now)
	tampered := []byte(strings.Replace(string(payload), "sess_1", "sess_2", 1))

	if _, err := ParseEvent(tampered, sig, testSecret, now); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestParseEventRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	payload, sig := signedPayload(t, `{"type":"session.completed"}`, now)

	if _, err := ParseEvent(payload, sig, "whsec_other", now); err == nil {
		t.Fatalf("expected signature mismatch with wrong secret")
	}
}

func TestParseEventRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	payload, sig := signedPayload(t, `{"type":"session.completed"}`, now.Add(-DefaultTolerance-time.Minute))

	_, err := ParseEvent(payload, sig, testSecret, now)
	if err == nil {
		t.Fatalf("expected stale timestamp rejection")
	}
	if !domain.IsKind(err, domain.KindPermanent) {
		t.Fatalf("expected KindPermanent, got %v", domain.KindOf(err))
	}
}

func TestParseEventRejectsMalformedHeader(t *testing.T) {
	now := time.Now()
	payload, _ := signedPayload(t, `{"type":"session.completed"}`, now)

	for _, header := range []string{"", "t=123", "v1=deadbeef", "t=abc,v1=deadbeef"} {
		if _, err := ParseEvent(payload, header, testSecret, now); err == nil {
			t.Fatalf("expected rejection for header %q", header)
		}
	}
}
