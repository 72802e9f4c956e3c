package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestTokenPostsClientCredentialsForm(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/tenant-1/oauth2/v2.0/token" {
			t.Errorf("unexpected token path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "client_credentials" {
			t.Errorf("unexpected grant_type %q", got)
		}
		if got := r.PostFormValue("client_id"); got != "client-1" {
			t.Errorf("unexpected client_id %q", got)
		}
		if got := r.PostFormValue("client_secret"); got != "s3cret" {
			t.Errorf("unexpected client_secret %q", got)
		}
		if got := r.PostFormValue("scope"); got != Scope {
			t.Errorf("unexpected scope %q", got)
		}
		fmt.Fprint(w, `{"access_token":"tok-abc","expires_in":3600}`)
	}))
	defer server.Close()

	source := NewClientCredentials("tenant-1", "client-1", "s3cret", nil, WithAuthority(server.URL))
	tok, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if tok != "tok-abc" {
		t.Fatalf("expected tok-abc, got %q", tok)
	}
	if calls != 1 {
		t.Fatalf("expected 1 token request, got %d", calls)
	}
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"access_token":"tok-abc","expires_in":3600}`)
	}))
	defer server.Close()

	source := NewClientCredentials("tenant-1", "client-1", "s3cret", nil, WithAuthority(server.URL))
	for i := 0; i < 3; i++ {
		if _, err := source.Token(context.Background()); err != nil {
			t.Fatalf("Token call %d returned error: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the token to be cached after the first request, got %d requests", calls)
	}
}

func TestTokenRefreshesWhenCloseToExpiry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Expires inside the refresh margin, so every call must refresh.
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":30}`, calls)
	}))
	defer server.Close()

	source := NewClientCredentials("tenant-1", "client-1", "s3cret", nil, WithAuthority(server.URL))
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("first Token returned error: %v", err)
	}
	tok, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("second Token returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a refresh, got %d requests", calls)
	}
	if tok != "tok-2" {
		t.Fatalf("expected refreshed token, got %q", tok)
	}
}

func TestTokenErrorCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	defer server.Close()

	source := NewClientCredentials("tenant-1", "client-1", "wrong", nil, WithAuthority(server.URL))
	_, err := source.Token(context.Background())
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", authErr.Status)
	}
	if authErr.Body != `{"error":"invalid_client"}` {
		t.Fatalf("unexpected body %q", authErr.Body)
	}
}

func TestTokenExpiryPrefersEmbeddedClaim(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	claims := jwtlib.RegisteredClaims{ExpiresAt: jwtlib.NewNumericDate(exp)}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	got := tokenExpiry(tokenResponse{AccessToken: signed, ExpiresIn: 3600})
	if !got.Equal(exp) {
		t.Fatalf("expected expiry %v from the claim, got %v", exp, got)
	}
}

func TestTokenExpiryFallsBackToExpiresIn(t *testing.T) {
	before := time.Now()
	got := tokenExpiry(tokenResponse{AccessToken: "opaque-token", ExpiresIn: 600})
	if got.Before(before.Add(9*time.Minute)) || got.After(time.Now().Add(11*time.Minute)) {
		t.Fatalf("expected expiry roughly 10 minutes out, got %v", got)
	}
}

func TestStaticToken(t *testing.T) {
	tok, err := Static("fixed").Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if tok != "fixed" {
		t.Fatalf("expected fixed, got %q", tok)
	}
}
