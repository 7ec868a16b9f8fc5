// Package printvendor wraps the print-on-demand vendor API: cost quotes and
// print-job submission. Transient vendor failures are retried with bounded
// exponential backoff inside the client; permanent rejections surface
// immediately.
package printvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"fablepress/pkg/domain"
)

const defaultAttempts = 3

// QuoteRequest asks for the print + shipping cost of one book.
type QuoteRequest struct {
	SKU             string          `json:"skuId"`
	PageCount       int             `json:"pageCount"`
	ShippingAddress *domain.Address `json:"shippingAddress,omitempty"`
}

// Quote is the vendor's cost answer.
type Quote struct {
	TotalCostCents  int64            `json:"totalCostInclTax"`
	Currency        string           `json:"currency"`
	ShippingOptions []ShippingOption `json:"shippingOptions"`
}

type ShippingOption struct {
	Level     string `json:"level"`
	CostCents int64  `json:"cost"`
}

// LineItem is one book within a print job.
type LineItem struct {
	SKU         string `json:"skuId"`
	PageCount   int    `json:"pageCount"`
	CoverURL    string `json:"coverUrl"`
	InteriorURL string `json:"interiorUrl"`
}

// PrintJobRequest submits a manufacturing job. ExternalID is derived
// deterministically from the order so vendor-side retries are idempotent.
type PrintJobRequest struct {
	ExternalID      string         `json:"externalId"`
	ShippingAddress domain.Address `json:"shippingAddress"`
	LineItems       []LineItem     `json:"lineItems"`
}

// PrintJob is the vendor's accepted-job answer.
type PrintJob struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// tokenCache holds the vendor bearer token with its expiry. It is owned by
// the client and injected nowhere else; there is no package-level state.
type tokenCache struct {
	mu     sync.Mutex
	value  string
	expiry time.Time
}

// Client talks to the vendor REST API.
type Client struct {
	baseURL      string
	clientKey    string
	clientSecret string
	httpClient   *http.Client
	attempts     uint
	token        *tokenCache
}

// Config for the vendor client.
type Config struct {
	BaseURL      string
	ClientKey    string
	ClientSecret string
	Timeout      time.Duration
	Attempts     int
}

// NewClient builds a vendor client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("vendor base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	return &Client{
		baseURL:      baseURL,
		clientKey:    strings.TrimSpace(cfg.ClientKey),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		httpClient:   &http.Client{Timeout: timeout},
		attempts:     uint(attempts),
		token:        &tokenCache{},
	}, nil
}

// Quote fetches a cost quote for the exact SKU/page-count/destination triple.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.SKU == "" {
		return Quote{}, domain.E(domain.KindValidation, "quote sku required")
	}
	if req.PageCount <= 0 {
		return Quote{}, domain.E(domain.KindValidation, "quote page count required")
	}
	var quote Quote
	err := c.doJSON(ctx, http.MethodPost, "/print-job-cost-calculations", req, &quote)
	if err != nil {
		return Quote{}, err
	}
	if quote.TotalCostCents <= 0 || quote.Currency == "" {
		return Quote{}, domain.E(domain.KindPermanent, "vendor returned an empty quote")
	}
	return quote, nil
}

// CreatePrintJob submits a print job. Submitting the same ExternalID twice
// is idempotent on the vendor side.
func (c *Client) CreatePrintJob(ctx context.Context, req PrintJobRequest) (PrintJob, error) {
	if req.ExternalID == "" {
		return PrintJob{}, domain.E(domain.KindValidation, "print job external id required")
	}
	if len(req.LineItems) == 0 {
		return PrintJob{}, domain.E(domain.KindValidation, "print job line items required")
	}
	var job PrintJob
	if err := c.doJSON(ctx, http.MethodPost, "/print-jobs", req, &job); err != nil {
		return PrintJob{}, err
	}
	if job.JobID == "" {
		return PrintJob{}, domain.E(domain.KindPermanent, "vendor accepted job without an id")
	}
	return job, nil
}

// doJSON performs one authenticated call with bounded retries on transient
// failures only.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	return retry.Do(
		func() error {
			return c.doJSONOnce(ctx, method, path, in, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(domain.Retryable),
	)
}

func (c *Client) doJSONOnce(ctx context.Context, method, path string, in, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode vendor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindTransient, "vendor request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return domain.Ef(domain.KindTransient, "vendor responded %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.Ef(domain.KindPermanent, "vendor rejected request: %s: %s",
			resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Wrap(domain.KindPermanent, "decode vendor response", err)
	}
	return nil
}

// bearerToken returns the cached vendor token, refreshing it when absent or
// within a minute of expiry.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()
	if c.token.value != "" && time.Until(c.token.expiry) > time.Minute {
		return c.token.value, nil
	}
	value, expiresIn, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.token.value = value
	c.token.expiry = time.Now().Add(expiresIn)
	return value, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	payload := map[string]string{
		"client_key":    c.clientKey,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, domain.Wrap(domain.KindTransient, "vendor token request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", 0, domain.Ef(domain.KindTransient, "vendor token endpoint responded %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return "", 0, domain.Ef(domain.KindPermanent, "vendor rejected credentials: %s", resp.Status)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, domain.Wrap(domain.KindPermanent, "decode vendor token", err)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, domain.E(domain.KindPermanent, "vendor returned empty token")
	}
	expiresIn := time.Duration(tokenResp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return tokenResp.AccessToken, expiresIn, nil
}
