package middleware

import (
	"context"
	"net/http"
	"strings"

	portalauth "github.com/veritaskey/portalauth"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the identity a guard attached to the
// request context.
func AuthResultFromContext(ctx context.Context) (*portalauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*portalauth.AuthResult)
	return res, ok
}

// Guard validates the bearer token and, when scopes is non-empty, requires
// the token's scope to be one of them.
func Guard(engine *portalauth.Engine, scopes ...portalauth.TokenScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.Validate(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if len(scopes) > 0 && !scopeAllowed(res.Scope, scopes) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireFull rejects second-factor scoped tokens. Wrap every route that
// must only be reachable after complete authentication.
func RequireFull(engine *portalauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, portalauth.ScopeFull)
}

// RequireSecondFactor accepts only the restricted token handed out on a
// 2FA_REQUIRED login outcome.
func RequireSecondFactor(engine *portalauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, portalauth.ScopeSecondFactor)
}

func scopeAllowed(scope portalauth.TokenScope, allowed []portalauth.TokenScope) bool {
	for _, s := range allowed {
		if scope == s {
			return true
		}
	}
	return false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
