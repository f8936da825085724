package main

import (
	"log"
	"os"
	"strconv"
	"time"
)

type appConfig struct {
	Addr      string
	RedisAddr string
	RedisDB   int

	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	ScopedTTL  time.Duration
	RefreshTTL time.Duration

	TOTPIssuer     string
	ApprovalWindow time.Duration

	// TrustedChannelToken authorizes the X-Trusted-Channel header. Empty
	// disables the bypass entirely.
	TrustedChannelToken string

	SeedUsername string
	SeedPassword string
	SeedEmail    string

	AuditLogPath string
	LogLevel     string
}

func loadConfig() appConfig {
	return appConfig{
		Addr:      getenv("ADDR", ":8084"),
		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getint("REDIS_DB", 0),

		Issuer:     getenv("ISSUER", "portalauth"),
		SigningKey: must("SIGNING_KEY"),
		AccessTTL:  getdur("ACCESS_TTL", 5*time.Minute),
		ScopedTTL:  getdur("SCOPED_TTL", 5*time.Minute),
		RefreshTTL: getdur("REFRESH_TTL", 24*time.Hour),

		TOTPIssuer:     getenv("TOTP_ISSUER", "Portal"),
		ApprovalWindow: getdur("PUSH_APPROVAL_WINDOW", 120*time.Second),

		TrustedChannelToken: getenv("TRUSTED_CHANNEL_TOKEN", ""),

		SeedUsername: getenv("SEED_USERNAME", ""),
		SeedPassword: getenv("SEED_PASSWORD", ""),
		SeedEmail:    getenv("SEED_EMAIL", ""),

		AuditLogPath: getenv("AUDIT_LOG_PATH", ""),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid duration for %s=%q, using default %s", k, v, def)
	}
	return def
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}
