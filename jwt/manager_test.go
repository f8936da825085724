package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func hs256TestConfig() Config {
	return Config{
		AccessTTL:     5 * time.Minute,
		ScopedTTL:     2 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "portalauth-test",
	}
}

func newHS256Manager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(hs256TestConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newHS256Manager(t)

	token, err := m.CreateAccess("u1", "full", false)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.UID != "u1" || claims.Scope != "full" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "portalauth-test" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestScopedTokenGetsShorterTTL(t *testing.T) {
	m := newHS256Manager(t)

	scoped, err := m.CreateAccess("u1", "second-factor", true)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	claims, err := m.ParseAccess(scoped)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}

	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime > 2*time.Minute+time.Second {
		t.Fatalf("expected scoped TTL, got lifetime %v", lifetime)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newHS256Manager(t)

	token, err := m.CreateRefresh("u1", "jti-123")
	if err != nil {
		t.Fatalf("CreateRefresh failed: %v", err)
	}

	claims, err := m.ParseRefresh(token)
	if err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
	if claims.UID != "u1" || claims.ID != "jti-123" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	m := newHS256Manager(t)

	refresh, err := m.CreateRefresh("u1", "jti-123")
	if err != nil {
		t.Fatalf("CreateRefresh failed: %v", err)
	}
	if _, err := m.ParseAccess(refresh); err == nil {
		t.Fatal("expected refresh token to be rejected as access token")
	}
}

func TestAccessTokenRejectedAsRefresh(t *testing.T) {
	m := newHS256Manager(t)

	access, err := m.CreateAccess("u1", "full", false)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := m.ParseRefresh(access); err == nil {
		t.Fatal("expected access token to be rejected as refresh token")
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	m := newHS256Manager(t)

	token, err := m.CreateAccess("u1", "full", false)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	tampered := token[:len(token)-4] + "AAAA"
	if _, err := m.ParseAccess(tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestWrongKeyRejected(t *testing.T) {
	m := newHS256Manager(t)

	other := hs256TestConfig()
	other.PrivateKey = []byte("ffffffffffffffffffffffffffffffff")
	m2, err := NewManager(other)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m2.CreateAccess("u1", "full", false)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected token signed with another key to be rejected")
	}
}

func TestWrongIssuerRejected(t *testing.T) {
	cfg := hs256TestConfig()
	cfg.Issuer = "someone-else"
	m2, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m := newHS256Manager(t)

	token, err := m2.CreateAccess("u1", "full", false)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected token with wrong issuer to be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := hs256TestConfig()
	cfg.AccessTTL = time.Nanosecond
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateAccess("u1", "full", false)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	cfg := hs256TestConfig()
	cfg.SigningMethod = MethodEd25519
	cfg.PrivateKey = priv
	cfg.PublicKey = pub

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateAccess("u1", "full", false)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.UID != "u1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewManagerRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"zero refresh ttl", func(c *Config) { c.RefreshTTL = 0 }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
		{"excessive leeway", func(c *Config) { c.Leeway = 5 * time.Minute }},
		{"missing hs256 key", func(c *Config) { c.PrivateKey = nil }},
		{"unknown method", func(c *Config) { c.SigningMethod = "rs256" }},
	}

	for _, tc := range cases {
		cfg := hs256TestConfig()
		tc.mutate(&cfg)
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected config rejection", tc.name)
		}
	}
}
