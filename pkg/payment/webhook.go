package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fablepress/pkg/domain"
)

// DefaultTolerance bounds how stale a signed event may be.
const DefaultTolerance = 5 * time.Minute

const EventSessionCompleted = "session.completed"

// Event is a verified payment-confirmation event.
type Event struct {
	Type            string            `json:"type"`
	SessionID       string            `json:"sessionId"`
	Metadata        map[string]string `json:"metadata"`
	ShippingDetails *domain.Address   `json:"shippingDetails,omitempty"`
	CustomerEmail   string            `json:"customerEmail,omitempty"`
}

// SignPayload produces the signature header for a payload at a timestamp.
// Exported for tests and for the processor simulator.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// ParseEvent verifies the signature header against the shared secret and
// decodes the payload. Verification failure means the caller must reject
// the delivery with no state change.
func ParseEvent(payload []byte, sigHeader, secret string, now time.Time) (Event, error) {
	ts, sig, err := splitSignature(sigHeader)
	if err != nil {
		return Event{}, err
	}
	at := time.Unix(ts, 0)
	age := now.Sub(at)
	if age < -DefaultTolerance || age > DefaultTolerance {
		return Event{}, domain.E(domain.KindPermanent, "webhook signature timestamp outside tolerance")
	}
	expected := SignPayload(payload, secret, at)
	_, expectedSig, _ := splitSignature(expected)
	if !hmac.Equal([]byte(sig), []byte(expectedSig)) {
		return Event{}, domain.E(domain.KindPermanent, "webhook signature mismatch")
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, domain.Wrap(domain.KindPermanent, "decode webhook event", err)
	}
	if event.Type == "" {
		return Event{}, domain.E(domain.KindPermanent, "webhook event type missing")
	}
	return event, nil
}

func splitSignature(header string) (int64, string, error) {
	var rawTS, sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			rawTS = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if rawTS == "" || sig == "" {
		return 0, "", domain.E(domain.KindPermanent, "malformed webhook signature header")
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return 0, "", domain.E(domain.KindPermanent, "malformed webhook signature timestamp")
	}
	return ts, sig, nil
}
