package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestManager(t *testing.T, ttl time.Duration) *TokenManager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AccessTokenTTL = ttl
	cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()
	m, err := NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func TestTokenManager_IssueVerify(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, 15*time.Minute)
	now := time.Now().UTC()

	tok, exp, err := m.Issue("user-1", "sess-1", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected expiry after now")
	}

	c, err := m.Verify(tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.UserID != "user-1" || c.SessionID != "sess-1" || c.Issuer != "inbox" {
		t.Fatalf("unexpected claims: %+v", c)
	}
}

func TestTokenManager_RejectsExpiredAndForeignTokens(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Minute)
	other := newTestManager(t, time.Minute)
	now := time.Now().UTC()

	old, _, _ := m.Issue("user-1", "sess-1", now.Add(-2*time.Hour))
	if _, err := m.Verify(old, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	foreign, _, _ := other.Issue("user-1", "sess-1", now)
	if _, err := m.Verify(foreign, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token to be rejected, got %v", err)
	}

	if _, err := m.Verify("not-a-token", now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected garbage to be rejected, got %v", err)
	}
	if _, err := m.Verify("  ", now); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestNewTokenManager_InvalidKey(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = "zz"
	if _, err := NewTokenManager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestAuthenticator_FromRequest(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Minute)
	tok, _, _ := m.Issue("user-9", "sess-9", time.Now().UTC())

	cases := []struct {
		name    string
		dev     bool
		header  string
		devUser string
		want    string
		wantErr error
	}{
		{name: "bearer", header: "Bearer " + tok, want: "user-9"},
		{name: "lowercase scheme", header: "bearer " + tok, want: "user-9"},
		{name: "missing", wantErr: ErrMissingToken},
		{name: "garbage", header: "Bearer nope", wantErr: ErrInvalidToken},
		{name: "dev header ignored in secure mode", devUser: "mallory", wantErr: ErrMissingToken},
		{name: "dev header", dev: true, devUser: "dev-user", want: "dev-user"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if tc.devUser != "" {
				r.Header.Set(DevUserHeader, tc.devUser)
			}

			c, err := NewAuthenticator(m, tc.dev).FromRequest(r)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil || c.UserID != tc.want {
				t.Fatalf("got %+v err=%v want %q", c, err, tc.want)
			}
		})
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator(nil, true)
	h := a.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFrom(r.Context())
		if !ok {
			t.Errorf("expected claims in context")
		}
		_, _ = w.Write([]byte(c.UserID))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "u1")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "u1" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}
