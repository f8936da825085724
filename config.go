package portalauth

import (
	"errors"
	"time"
)

// Config holds every tunable of the engine. Instances are cloned at Build
// time and treated as immutable afterwards.
type Config struct {
	Tokens    TokenConfig
	TOTP      TOTPConfig
	Push      PushConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// TokenConfig configures the token issuer. Access tokens are short-lived;
// the scoped TTL applies to the restricted second-factor token handed out on
// a 2FA_REQUIRED login outcome.
type TokenConfig struct {
	Issuer        string
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	AccessTTL     time.Duration
	ScopedTTL     time.Duration
	RefreshTTL    time.Duration
}

// TOTPConfig configures code generation and verification.
type TOTPConfig struct {
	Issuer    string // label embedded in provisioning URIs
	Digits    int
	Period    int // seconds per time step
	Algorithm string
	Skew      int // accepted steps either side of now
}

// PushConfig configures the push-approval coordinator.
type PushConfig struct {
	// ApprovalWindow bounds how long a PENDING request stays answerable.
	// Older requests are treated as EXPIRED at read time.
	ApprovalWindow time.Duration
	// Retention is the storage TTL on request records. Superseded requests
	// are never deleted eagerly; this caps how long they linger.
	Retention time.Duration
	// PendingScanLimit bounds how many recent requests PendingPush inspects
	// when looking for the current PENDING one.
	PendingScanLimit int
}

// RateLimitConfig configures the Redis-backed attempt throttles.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	MaxCodeAttempts  int
	CodeCooldown     time.Duration
}

// AuditConfig configures the fire-and-forget audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			Issuer:        "portalauth",
			SigningMethod: "hs256",
			AccessTTL:     5 * time.Minute,
			ScopedTTL:     5 * time.Minute,
			RefreshTTL:    24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:    "portalauth",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Push: PushConfig{
			ApprovalWindow:   120 * time.Second,
			Retention:        24 * time.Hour,
			PendingScanLimit: 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			EnableIPThrottle: false,
			MaxLoginAttempts: 5,
			LoginCooldown:    15 * time.Minute,
			MaxCodeAttempts:  5,
			CodeCooldown:     5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultConfig returns the engine defaults: 6-digit SHA-1 TOTP with a ±1
// step window, a 120-second push approval window, and 5-minute access
// tokens.
func DefaultConfig() Config {
	return defaultConfig()
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Tokens.ScopedTTL <= 0 {
		return errors.New("scoped token TTL must be positive")
	}
	switch c.Tokens.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("unsupported signing method")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp skew must be between 0 and 2")
	}
	switch c.TOTP.Algorithm {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("unsupported totp algorithm")
	}
	if c.Push.ApprovalWindow <= 0 {
		return errors.New("push approval window must be positive")
	}
	if c.Push.Retention < c.Push.ApprovalWindow {
		return errors.New("push retention must cover the approval window")
	}
	if c.Push.PendingScanLimit <= 0 {
		return errors.New("push pending scan limit must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 || c.RateLimit.MaxCodeAttempts <= 0 {
			return errors.New("rate limit attempt budgets must be positive")
		}
		if c.RateLimit.LoginCooldown <= 0 || c.RateLimit.CodeCooldown <= 0 {
			return errors.New("rate limit cooldowns must be positive")
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.PrivateKey = append([]byte(nil), cfg.Tokens.PrivateKey...)
	out.Tokens.PublicKey = append([]byte(nil), cfg.Tokens.PublicKey...)
	return out
}
