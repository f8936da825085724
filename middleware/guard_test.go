package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	portalauth "github.com/veritaskey/portalauth"
)

type staticIdentity struct{}

func (staticIdentity) Authenticate(_ context.Context, username, password string) (portalauth.User, error) {
	if username == "alice" && password == "correct-password-123" {
		return portalauth.User{ID: "u1", Username: "alice", Email: "alice@example.com"}, nil
	}
	return portalauth.User{}, errors.New("authentication failed")
}

func (staticIdentity) UserEmail(context.Context, string) (string, error) {
	return "alice@example.com", nil
}

func newGuardTestEngine(t *testing.T) (*portalauth.Engine, *portalauth.LoginResult, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	cfg := portalauth.DefaultConfig()
	cfg.Tokens.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	engine, err := portalauth.New().
		WithConfig(cfg).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		WithIdentityProvider(staticIdentity{}).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	result, err := engine.Login(context.Background(), "alice", "correct-password-123")
	if err != nil {
		engine.Close()
		mr.Close()
		t.Fatalf("Login failed: %v", err)
	}

	return engine, result, func() {
		engine.Close()
		mr.Close()
	}
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := AuthResultFromContext(r.Context())
		if !ok || auth.UserID == "" {
			t.Error("expected auth result in request context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGuardAcceptsValidToken(t *testing.T) {
	engine, result, done := newGuardTestEngine(t)
	defer done()

	handler := Guard(engine)(okHandler(t))
	rec := doRequest(handler, "Bearer "+result.Tokens.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGuardRejectsMissingAndMalformedHeaders(t *testing.T) {
	engine, result, done := newGuardTestEngine(t)
	defer done()

	handler := Guard(engine)(okHandler(t))
	for _, header := range []string{
		"",
		"Bearer ",
		"Bearer",
		"Basic dXNlcjpwYXNz",
		result.Tokens.AccessToken, // missing scheme
	} {
		rec := doRequest(handler, header)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestGuardRejectsInvalidToken(t *testing.T) {
	engine, _, done := newGuardTestEngine(t)
	defer done()

	handler := Guard(engine)(okHandler(t))
	rec := doRequest(handler, "Bearer not-a-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireFullAcceptsFullToken(t *testing.T) {
	engine, result, done := newGuardTestEngine(t)
	defer done()

	full := RequireFull(engine)(okHandler(t))
	rec := doRequest(full, "Bearer "+result.Tokens.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected full token accepted, got %d", rec.Code)
	}
}

func TestScopeMismatchIsForbiddenNotUnauthorized(t *testing.T) {
	engine, result, done := newGuardTestEngine(t)
	defer done()

	// a full token hitting a second-factor-only route is a scope problem,
	// not an authentication problem
	secondFactorOnly := RequireSecondFactor(engine)(okHandler(t))
	rec := doRequest(secondFactorOnly, "Bearer "+result.Tokens.AccessToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
