package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
)

const defaultStatementAPIBaseURL = "https://api.bank.example/statements/v1"

const (
	// Statement feeds rate-limit aggressive polling. Retries double the
	// delay starting at one second and give up after five attempts.
	defaultRetryAttempts = 5
	defaultInitialDelay  = 1 * time.Second
)

// ErrRateLimited is returned once the bounded retry budget against a
// rate-limiting feed is exhausted. Callers must treat it as transient and
// distinct from other upstream failures.
var ErrRateLimited = errors.New("bank statement feed rate limited, retries exhausted")

// StatementLine is one credit or debit on the merchant account statement.
type StatementLine struct {
	Reference    string  `json:"reference"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Counterparty string  `json:"counterparty"`
	BookedAt     string  `json:"booked_at"`
}

// Client reads the external bank statement feed. It is pure read: no
// call here mutates remote state, which is what makes the retry loop safe.
type Client struct {
	Token      string
	APIBaseURL string

	RetryAttempts int
	InitialDelay  time.Duration

	HTTPClient *http.Client

	// sleep is swapped in tests to avoid real delays.
	sleep func(time.Duration)
}

// NewClientFromEnv builds a statement client from environment settings.
func NewClientFromEnv() *Client {
	return &Client{
		Token:         strings.TrimSpace(env.GetEnv("BANK_API_TOKEN", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("BANK_API_BASE_URL", defaultStatementAPIBaseURL)),
		RetryAttempts: env.GetEnvInt("BANK_API_RETRY_ATTEMPTS", defaultRetryAttempts),
		InitialDelay:  env.GetEnvDuration("BANK_API_RETRY_DELAY", defaultInitialDelay),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		sleep: time.Sleep,
	}
}

// ListTransactions fetches the statement lines booked in [from, to].
// HTTP 409 means the feed is rate limiting this token; the request is
// retried with exponential backoff inside the bounded budget. Any other
// upstream error propagates on the final attempt.
func (c *Client) ListTransactions(ctx context.Context, from, to time.Time) ([]StatementLine, error) {
	if strings.TrimSpace(c.Token) == "" {
		return nil, errors.New("BANK_API_TOKEN is not configured")
	}

	attempts := c.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	delay := c.InitialDelay
	if delay <= 0 {
		delay = defaultInitialDelay
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lines, retryable, err := c.fetchOnce(ctx, from, to)
		if err == nil {
			return lines, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt < attempts {
			log.Warnf("[Bank] Statement feed rate limited (attempt %d/%d), retrying in %s", attempt, attempts, delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			sleep(delay)
			delay *= 2
		}
	}

	log.Errorf("[Bank] Statement feed retries exhausted: %v", lastErr)
	return nil, ErrRateLimited
}

// fetchOnce performs a single statement request. The second return value
// reports whether the failure is a rate limit worth retrying.
func (c *Client) fetchOnce(ctx context.Context, from, to time.Time) ([]StatementLine, bool, error) {
	base := strings.TrimRight(c.APIBaseURL, "/")
	u, err := url.Parse(base + "/transactions")
	if err != nil {
		return nil, false, fmt.Errorf("invalid BANK_API_BASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode == http.StatusConflict {
		return nil, true, fmt.Errorf("bank statement feed rate limited: status=%d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("bank statement request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		Transactions []StatementLine `json:"transactions"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false, err
	}
	return out.Transactions, false, nil
}
