package portalauth

import (
	"context"

	"github.com/google/uuid"
)

// issueTokens mints a full access/refresh pair for userID. It carries no
// knowledge of how the caller proved their identity; the flows decide when
// a pair may be handed out.
func (e *Engine) issueTokens(userID string) (*TokenPair, error) {
	access, err := e.jwtManager.CreateAccess(userID, string(ScopeFull), false)
	if err != nil {
		return nil, err
	}
	refresh, err := e.jwtManager.CreateRefresh(userID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates a refresh token into a fresh pair. When a revoker is
// installed, the token's rotation ID is checked against it first.
// Malformed, expired, mistyped, and revoked tokens all map to
// ErrRefreshInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditTokenRefresh, false, "", "", "", ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	if e.revoker != nil {
		revoked, err := e.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		if revoked {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, AuditTokenRefresh, false, claims.UID, "", "", ErrRefreshInvalid, func() map[string]string {
				return map[string]string{"reason": "revoked"}
			})
			return nil, ErrRefreshInvalid
		}
	}

	tokens, err := e.issueTokens(claims.UID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditTokenRefresh, true, claims.UID, "", "", nil, nil)
	return tokens, nil
}

// Validate parses an access token and returns the caller's identity and
// scope. Middleware calls this on every guarded request.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	}
	if err != nil {
		return nil, ErrTokenInvalid
	}

	scope := TokenScope(claims.Scope)
	switch scope {
	case ScopeFull, ScopeSecondFactor:
	default:
		return nil, ErrTokenInvalid
	}

	return &AuthResult{UserID: claims.UID, Scope: scope}, nil
}
