package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DevUserHeader carries the user id when Config.DevInsecure is set.
const DevUserHeader = "X-Inbox-User"

type ctxKey struct{}

// WithClaims stores c in ctx.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFrom returns the claims stored by WithClaims.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok && c.UserID != ""
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Authenticator resolves the caller of a request.
type Authenticator struct {
	verifier    Verifier
	devInsecure bool
	now         func() time.Time
}

// NewAuthenticator constructs an Authenticator. verifier may be nil only in dev-insecure mode.
func NewAuthenticator(verifier Verifier, devInsecure bool) *Authenticator {
	return &Authenticator{
		verifier:    verifier,
		devInsecure: devInsecure,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate verifies a raw token, falling back to devUser in dev-insecure mode.
func (a *Authenticator) Authenticate(token, devUser string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token != "" && a.verifier != nil {
		return a.verifier.Verify(token, a.now())
	}
	if a.devInsecure {
		if u := strings.TrimSpace(devUser); u != "" {
			return Claims{UserID: u, Issuer: "dev"}, nil
		}
	}
	if token != "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{}, ErrMissingToken
}

// FromRequest authenticates r by bearer token (or the dev header).
func (a *Authenticator) FromRequest(r *http.Request) (Claims, error) {
	return a.Authenticate(BearerToken(r), r.Header.Get(DevUserHeader))
}

// Middleware rejects unauthenticated requests with 401 and stores claims in the request context.
func (a *Authenticator) Middleware(onReject func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := a.FromRequest(r)
			if err != nil {
				if onReject != nil {
					onReject(w, r, err)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
		})
	}
}
