package bank

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	return &Client{
		Token:         "test-token",
		APIBaseURL:    serverURL,
		RetryAttempts: 5,
		InitialDelay:  1 * time.Second,
		HTTPClient:    &http.Client{Timeout: 5 * time.Second},
		sleep:         func(time.Duration) {},
	}
}

func TestListTransactions_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
			t.Errorf("missing date range query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transactions":[{"reference":"ref-1","amount":1000.0,"currency":"CZK","counterparty":"ACME s.r.o."}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	now := time.Now()
	lines, err := c.ListTransactions(context.Background(), now, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0].Reference != "ref-1" || lines[0].Amount != 1000.0 {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestListTransactions_RateLimitedThenSuccess(t *testing.T) {
	var calls int
	var delays []time.Duration

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"transactions":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.sleep = func(d time.Duration) { delays = append(delays, d) }

	now := time.Now()
	if _, err := c.ListTransactions(context.Background(), now, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	// Exponential backoff: 1s then 2s.
	if len(delays) != 2 || delays[0] != 1*time.Second || delays[1] != 2*time.Second {
		t.Fatalf("unexpected backoff delays: %v", delays)
	}
}

func TestListTransactions_RetriesExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	now := time.Now()
	_, err := c.ListTransactions(context.Background(), now, now)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls)
	}
}

func TestListTransactions_OtherUpstreamErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	now := time.Now()
	_, err := c.ListTransactions(context.Background(), now, now)
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatalf("a plain upstream failure must be distinguishable from retry exhaustion")
	}
	if calls != 1 {
		t.Fatalf("expected no retry for non-rate-limit error, got %d calls", calls)
	}
}

func TestListTransactions_MissingToken(t *testing.T) {
	c := newTestClient("http://localhost:0")
	c.Token = ""
	now := time.Now()
	if _, err := c.ListTransactions(context.Background(), now, now); err == nil {
		t.Fatalf("expected configuration error")
	}
}
