package portalauth

import (
	"context"
	"errors"

	"github.com/veritaskey/portalauth/internal/rate"
)

// Login verifies the password and decides how the session may proceed.
//
// The outcome is one of three: SUCCESS (trusted channel only),
// SETUP_REQUIRED (correct password, no device enrolled, full tokens
// issued), or 2FA_REQUIRED (active device exists, only a second-factor
// scoped token issued). Unknown usernames, wrong passwords, and disabled
// accounts all return ErrInvalidCredentials with no further detail.
func (e *Engine) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if e == nil || e.identity == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, username, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, AuditLogin, false, "", "", "", ErrLoginRateLimited, func() map[string]string {
					return map[string]string{"reason": "rate_limited"}
				})
				return nil, ErrLoginRateLimited
			}
			return nil, ErrRegistryUnavailable
		}
	}

	user, err := e.identity.Authenticate(ctx, username, password)
	if err != nil {
		if e.rateLimiter != nil {
			if incErr := e.rateLimiter.IncrementLogin(ctx, username, ip); errors.Is(incErr, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, AuditLogin, false, "", "", "", ErrLoginRateLimited, nil)
				return nil, ErrLoginRateLimited
			}
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditLogin, false, "", "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"username": username}
		})
		return nil, ErrInvalidCredentials
	}

	if e.rateLimiter != nil {
		_ = e.rateLimiter.ResetLogin(ctx, username, ip)
	}

	enrolled := true
	if _, err := e.devices.GetActive(ctx, user.ID); err != nil {
		if !errors.Is(err, errNoActiveDevice) {
			return nil, mapDeviceStoreError(err)
		}
		enrolled = false
	}

	if trustedChannelFromContext(ctx) {
		tokens, err := e.issueTokens(user.ID)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginSuccess)
		e.metricInc(MetricTrustedBypass)
		e.emitAudit(ctx, AuditLoginBypass, true, user.ID, "", "", nil, func() map[string]string {
			return map[string]string{"device_enrolled": boolString(enrolled)}
		})
		return &LoginResult{
			Outcome:        OutcomeSuccess,
			UserID:         user.ID,
			Tokens:         tokens,
			DeviceEnrolled: enrolled,
		}, nil
	}

	if enrolled {
		scoped, err := e.jwtManager.CreateAccess(user.ID, string(ScopeSecondFactor), true)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginSecondFactorRequired)
		e.emitAudit(ctx, AuditLogin, true, user.ID, "", "", nil, func() map[string]string {
			return map[string]string{"outcome": OutcomeSecondFactorRequired.String()}
		})
		return &LoginResult{
			Outcome:        OutcomeSecondFactorRequired,
			UserID:         user.ID,
			ScopedToken:    scoped,
			DeviceEnrolled: true,
		}, nil
	}

	// No device yet: the account holder gets full access and is steered
	// into enrollment by the caller.
	tokens, err := e.issueTokens(user.ID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSetupRequired)
	e.emitAudit(ctx, AuditLogin, true, user.ID, "", "", nil, func() map[string]string {
		return map[string]string{"outcome": OutcomeSetupRequired.String()}
	})
	return &LoginResult{
		Outcome:        OutcomeSetupRequired,
		UserID:         user.ID,
		Tokens:         tokens,
		DeviceEnrolled: false,
	}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
