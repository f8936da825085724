package portalauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/veritaskey/portalauth/internal/rate"
	"github.com/veritaskey/portalauth/jwt"
)

// Builder assembles an [Engine]. A Builder is single-use: Build returns an
// error if called twice.
type Builder struct {
	config Config
	redis  *redis.Client

	identity  IdentityProvider
	revoker   RefreshRevoker
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithIdentityProvider(idp IdentityProvider) *Builder {
	b.identity = idp
	return b
}

// WithRefreshRevoker installs the optional refresh revocation check.
// Without one, refresh tokens are valid until expiry.
func (b *Builder) WithRefreshRevoker(r RefreshRevoker) *Builder {
	b.revoker = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. Expiry windows and replay
// steps derive from this clock, so tests can move time without sleeping.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the stores, and returns a ready
// Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identity == nil {
		return nil, errors.New("identity provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config:   cfg,
		identity: b.identity,
		revoker:  b.revoker,
		now:      clock,
	}

	engine.devices = newDeviceStore(b.redis, clock)
	engine.pushes = newPushStore(b.redis, clock, cfg.Push)
	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:    cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:    cfg.RateLimit.MaxLoginAttempts,
			LoginCooldownPeriod: cfg.RateLimit.LoginCooldown,
			MaxCodeAttempts:     cfg.RateLimit.MaxCodeAttempts,
			CodeCooldownPeriod:  cfg.RateLimit.CodeCooldown,
		})
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TOTP)

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Tokens.AccessTTL,
		ScopedTTL:     cfg.Tokens.ScopedTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.Tokens.SigningMethod),
		PrivateKey:    append([]byte(nil), cfg.Tokens.PrivateKey...),
		PublicKey:     append([]byte(nil), cfg.Tokens.PublicKey...),
		Issuer:        cfg.Tokens.Issuer,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
