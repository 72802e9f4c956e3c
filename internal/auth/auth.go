package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultAuthority is the public-cloud OAuth authority host.
const DefaultAuthority = "https://login.microsoftonline.com"

// Scope grants access to the analytics REST surface.
const Scope = "https://analysis.windows.net/powerbi/api/.default"

// refreshMargin forces a refresh slightly before the token actually expires
// so in-flight requests never carry a token about to lapse.
const refreshMargin = 2 * time.Minute

// TokenSource supplies a bearer token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token, used by tests.
type Static string

// Token returns the fixed token.
func (s Static) Token(context.Context) (string, error) { return string(s), nil }

// Error represents a failed token acquisition.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("token request failed with status %d", e.Status)
	}
	return fmt.Sprintf("token request failed (%d): %s", e.Status, body)
}

// ClientCredentials acquires tokens via the OAuth2 client-credentials grant
// and caches them until close to expiry.
type ClientCredentials struct {
	authority    string
	tenantID     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Option customises token source instantiation.
type Option func(*ClientCredentials)

// WithAuthority overrides the OAuth authority host.
func WithAuthority(authority string) Option {
	return func(c *ClientCredentials) {
		if strings.TrimSpace(authority) != "" {
			c.authority = strings.TrimRight(authority, "/")
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *ClientCredentials) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewClientCredentials constructs a token source for the given tenant and
// service principal.
func NewClientCredentials(tenantID, clientID, clientSecret string, logger *slog.Logger, opts ...Option) *ClientCredentials {
	c := &ClientCredentials{
		authority:    DefaultAuthority,
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a cached token while it remains valid, otherwise posts the
// client-credentials form to the authority.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || time.Now().Before(c.expires.Add(-refreshMargin))) {
		return c.token, nil
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {Scope},
		"grant_type":    {"client_credentials"},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.authority, url.PathEscape(c.tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform token request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Status: resp.StatusCode, Body: string(data)}
	}
	var payload tokenResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", &Error{Status: resp.StatusCode, Body: "response carried no access_token"}
	}

	c.token = payload.AccessToken
	c.expires = tokenExpiry(payload)
	if c.logger != nil {
		c.logger.Debug("access token acquired", "tenant_id", c.tenantID, "expires", c.expires)
	}
	return c.token, nil
}

// tokenExpiry prefers the exp claim embedded in the token; the response's
// expires_in field is the fallback. The signature is not checked here, the
// service validates it on every call.
func tokenExpiry(payload tokenResponse) time.Time {
	var claims jwtlib.RegisteredClaims
	parser := jwtlib.NewParser(jwtlib.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(payload.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if payload.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return time.Time{}
}
