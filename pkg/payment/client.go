// Package payment wraps the payment processor at its wire boundary:
// creating checkout sessions and parsing signed confirmation events.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"fablepress/pkg/domain"
)

// SessionRequest opens a hosted payment session for one order total.
type SessionRequest struct {
	AmountCents int64             `json:"amount"`
	Currency    string            `json:"currency"`
	SuccessURL  string            `json:"successUrl"`
	CancelURL   string            `json:"cancelUrl"`
	Metadata    map[string]string `json:"metadata"`
}

// Session is the processor's answer: an id to store on the order and a URL
// to send the buyer to.
type Session struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// Client talks to the payment processor API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a payment client.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("payment base URL required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// CreateSession opens a payment session. An idempotency key is attached so a
// timed-out create can be repeated without opening two sessions.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if req.AmountCents <= 0 {
		return Session{}, domain.E(domain.KindValidation, "session amount must be positive")
	}
	if req.Currency == "" {
		return Session{}, domain.E(domain.KindValidation, "session currency required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, fmt.Errorf("encode session request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Session{}, domain.Wrap(domain.KindTransient, "payment session request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Session{}, domain.Ef(domain.KindTransient, "payment processor responded %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return Session{}, domain.Ef(domain.KindPermanent, "payment processor rejected session: %s", resp.Status)
	}
	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, domain.Wrap(domain.KindPermanent, "decode payment session", err)
	}
	if session.SessionID == "" || session.RedirectURL == "" {
		return Session{}, domain.E(domain.KindPermanent, "payment processor returned incomplete session")
	}
	return session, nil
}
