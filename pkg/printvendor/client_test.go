package printvendor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fablepress/pkg/domain"
)

func newVendorServer(t *testing.T, quoteHandler http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var tokenCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	})
	if quoteHandler != nil {
		mux.HandleFunc("/print-job-cost-calculations", quoteHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:      baseURL,
		ClientKey:    "key",
		ClientSecret: "secret",
		Timeout:      2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestQuoteSuccess(t *testing.T) {
	srv, _ := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Quote{TotalCostCents: 2000, Currency: "USD"})
	})
	c := newTestClient(t, srv.URL)

	quote, err := c.Quote(context.Background(), QuoteRequest{SKU: "TR-6x9-BW", PageCount: 200})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.TotalCostCents != 2000 || quote.Currency != "USD" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestQuoteRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv, _ := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Quote{TotalCostCents: 2000, Currency: "USD"})
	})
	c := newTestClient(t, srv.URL)

	if _, err := c.Quote(context.Background(), QuoteRequest{SKU: "TR-6x9-BW", PageCount: 200}); err != nil {
		t.Fatalf("quote after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestQuoteDoesNotRetryPermanentRejection(t *testing.T) {
	var calls atomic.Int64
	srv, _ := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	c := newTestClient(t, srv.URL)

	_, err := c.Quote(context.Background(), QuoteRequest{SKU: "TR-6x9-BW", PageCount: 900})
	if err == nil {
		t.Fatalf("expected rejection error")
	}
	if !domain.IsKind(err, domain.KindPermanent) {
		t.Fatalf("expected KindPermanent, got %v", domain.KindOf(err))
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent rejection must not be retried, got %d attempts", calls.Load())
	}
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	srv, tokenCalls := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Quote{TotalCostCents: 2000, Currency: "USD"})
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Quote(ctx, QuoteRequest{SKU: "TR-6x9-BW", PageCount: 200}); err != nil {
			t.Fatalf("quote %d: %v", i, err)
		}
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("expected one token fetch, got %d", tokenCalls.Load())
	}
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	srv, tokenCalls := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Quote{TotalCostCents: 2000, Currency: "USD"})
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.Quote(ctx, QuoteRequest{SKU: "TR-6x9-BW", PageCount: 200}); err != nil {
		t.Fatalf("quote: %v", err)
	}
	c.token.mu.Lock()
	c.token.expiry = time.Now().Add(-time.Minute)
	c.token.mu.Unlock()
	if _, err := c.Quote(ctx, QuoteRequest{SKU: "TR-6x9-BW", PageCount: 200}); err != nil {
		t.Fatalf("quote after expiry: %v", err)
	}
	if tokenCalls.Load() != 2 {
		t.Fatalf("expected token refresh after expiry, got %d fetches", tokenCalls.Load())
	}
}
