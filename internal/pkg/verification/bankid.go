package verification

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
	"golang.org/x/oauth2"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
	"github.com/JonasWeber/AgeGuard/internal/pkg/constants"
	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
)

const (
	defaultIdentityAuthorizeURL = "https://oidc.bankid.example/auth"
	defaultIdentityTokenURL     = "https://oidc.bankid.example/token"
	defaultIdentityProfileURL   = "https://oidc.bankid.example/profile"
)

// IdentityProvider is the slice of the remote bank-identity provider the
// adapter needs: build the redirect, exchange the callback code, read the
// verified birth date.
type IdentityProvider interface {
	Configured() bool
	AuthorizeURLWithState(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (string, error)
	GetBirthDate(ctx context.Context, accessToken string) (time.Time, error)
}

// IdentityClient talks to a bank-grade identity provider over OAuth2,
// with the authorization-code exchange handled by golang.org/x/oauth2.
type IdentityClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthorizeURL string
	TokenURL     string
	ProfileURL   string

	HTTPClient *http.Client
}

// config assembles the oauth2 endpoint configuration.
func (c *IdentityClient) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       []string{"openid", "birthdate"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthorizeURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// httpContext routes the oauth2 transport through the client's own
// http.Client so timeouts and test servers apply.
func (c *IdentityClient) httpContext(ctx context.Context) context.Context {
	if c.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
}

// NewIdentityClientFromEnv builds the provider client from environment
// settings. An empty client id switches the adapter into demo mode.
func NewIdentityClientFromEnv() *IdentityClient {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	redirectURI := strings.TrimSpace(env.GetEnv("IDENTITY_REDIRECT_URI", ""))
	if redirectURI == "" && base != "" {
		redirectURI = base + constants.BankIDCallbackRoute
	}

	return &IdentityClient{
		ClientID:     strings.TrimSpace(env.GetEnv("IDENTITY_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("IDENTITY_CLIENT_SECRET", "")),
		RedirectURI:  redirectURI,
		AuthorizeURL: strings.TrimSpace(env.GetEnv("IDENTITY_AUTHORIZE_URL", defaultIdentityAuthorizeURL)),
		TokenURL:     strings.TrimSpace(env.GetEnv("IDENTITY_TOKEN_URL", defaultIdentityTokenURL)),
		ProfileURL:   strings.TrimSpace(env.GetEnv("IDENTITY_PROFILE_URL", defaultIdentityProfileURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether real provider credentials are present.
func (c *IdentityClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// AuthorizeURLWithState builds the provider redirect carrying the record
// identifier as correlation state.
func (c *IdentityClient) AuthorizeURLWithState(state string) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" {
		return "", errors.New("IDENTITY_CLIENT_ID is not configured")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		return "", errors.New("IDENTITY_REDIRECT_URI is not configured")
	}
	return c.config().AuthCodeURL(state), nil
}

// ExchangeCode trades the callback authorization code for an access token.
// A failure here is fatal to the attempt, never retried: the code is
// single-use and the exchange mutates provider state.
func (c *IdentityClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New("oauth code is required")
	}

	token, err := c.config().Exchange(c.httpContext(ctx), strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("identity token exchange failed: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", errors.New("identity token exchange returned empty access_token")
	}
	return token.AccessToken, nil
}

// GetBirthDate reads the verified birth date from the provider profile.
func (c *IdentityClient) GetBirthDate(ctx context.Context, accessToken string) (time.Time, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return time.Time{}, errors.New("access token is required")
	}

	client := oauth2.NewClient(c.httpContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ProfileURL, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return time.Time{}, fmt.Errorf("identity profile request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		BirthDate string `json:"birthdate"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return time.Time{}, err
	}
	birth, err := time.Parse("2006-01-02", strings.TrimSpace(out.BirthDate))
	if err != nil {
		return time.Time{}, fmt.Errorf("identity profile returned unparseable birthdate %q: %w", out.BirthDate, err)
	}
	return birth, nil
}

// BankIDAdapter runs the redirect-identity method: initiate builds the
// provider redirect, the provider callback drives resolve.
type BankIDAdapter struct {
	records  repository.RecordRepository
	provider IdentityProvider
	decider  agecheck.Config
	// now is swapped in tests for deterministic age math.
	now func() time.Time
}

func NewBankIDAdapter(records repository.RecordRepository, provider IdentityProvider, decider agecheck.Config) *BankIDAdapter {
	return &BankIDAdapter{records: records, provider: provider, decider: decider, now: time.Now}
}

func (a *BankIDAdapter) Method() models.VerificationMethod {
	return models.MethodBankID
}

// Initiate creates the pending record and hands back the provider
// redirect, using the record identifier as correlation state. Without
// provider credentials a demo stub URL is returned instead of contacting
// the provider.
func (a *BankIDAdapter) Initiate(ctx context.Context, shop *models.Shop, in StartInput) (*StartResult, error) {
	_ = ctx
	record, err := newPendingRecord(a.records, shop, models.MethodBankID, in.UserIdentifier)
	if err != nil {
		return nil, err
	}

	if !a.provider.Configured() {
		log.Warnf("[BankID] Provider not configured, returning demo redirect for record %s", record.UUID)
		base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
		return &StartResult{
			Record:      record,
			RedirectURL: base + "/verify/bankid/demo?state=" + url.QueryEscape(record.UUID),
		}, nil
	}

	redirect, err := a.provider.AuthorizeURLWithState(record.UUID)
	if err != nil {
		return nil, err
	}
	return &StartResult{Record: record, RedirectURL: redirect}, nil
}

// Resolve is driven by the provider callback. A redelivered callback for a
// record that is already terminal is an idempotent no-op.
func (a *BankIDAdapter) Resolve(ctx context.Context, record *models.VerificationRecord, ev Evidence) (*ResolveResult, error) {
	if record.IsTerminal() {
		return &ResolveResult{Record: record, Done: true, AlreadyTerminal: true}, nil
	}
	if strings.TrimSpace(ev.AuthorizationCode) == "" {
		return nil, ErrEvidenceInvalid
	}

	accessToken, err := a.provider.ExchangeCode(ctx, ev.AuthorizationCode)
	if err != nil {
		log.Errorf("[BankID] Token exchange failed for record %s: %v", record.UUID, err)
		completed, cerr := a.records.Complete(record.ID, models.RecordStatusError, models.ResultError,
			"identity provider token exchange failed")
		if cerr != nil {
			return nil, cerr
		}
		return &ResolveResult{Record: completed, Done: true}, nil
	}

	birth, err := a.provider.GetBirthDate(ctx, accessToken)
	if err != nil {
		log.Errorf("[BankID] Birth date fetch failed for record %s: %v", record.UUID, err)
		completed, cerr := a.records.Complete(record.ID, models.RecordStatusError, models.ResultError,
			"identity provider did not return a birth date")
		if cerr != nil {
			return nil, cerr
		}
		return &ResolveResult{Record: completed, Done: true}, nil
	}

	age := agecheck.AgeAt(birth, a.now())
	verdict := a.decider.Decide(age)

	result := models.ResultFailure
	if verdict == agecheck.VerdictApproved {
		result = models.ResultSuccess
	}
	completed, err := a.records.Complete(record.ID, models.RecordStatusCompleted, result,
		fmt.Sprintf("bank identity confirmed age %d", age))
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyTerminal) {
			// Lost the race against a concurrent redelivery.
			stored, gerr := a.records.GetByID(record.ID)
			if gerr != nil {
				return nil, gerr
			}
			return &ResolveResult{Record: stored, Done: true, AlreadyTerminal: true}, nil
		}
		return nil, err
	}

	return &ResolveResult{Record: completed, Verdict: verdict, Age: &age, Done: true}, nil
}
