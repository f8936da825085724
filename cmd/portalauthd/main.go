package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	portalauth "github.com/veritaskey/portalauth"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()

	identity, err := newMemoryIdentityProvider()
	if err != nil {
		logger.Fatal("identity provider", zap.Error(err))
	}
	if cfg.SeedUsername != "" && cfg.SeedPassword != "" {
		if _, err := identity.AddUser(cfg.SeedUsername, cfg.SeedEmail, cfg.SeedPassword); err != nil {
			logger.Fatal("seed user", zap.Error(err))
		}
		logger.Info("seeded user", zap.String("username", cfg.SeedUsername))
	}

	engineCfg := portalauth.DefaultConfig()
	engineCfg.Tokens.Issuer = cfg.Issuer
	engineCfg.Tokens.PrivateKey = []byte(cfg.SigningKey)
	engineCfg.Tokens.AccessTTL = cfg.AccessTTL
	engineCfg.Tokens.ScopedTTL = cfg.ScopedTTL
	engineCfg.Tokens.RefreshTTL = cfg.RefreshTTL
	engineCfg.TOTP.Issuer = cfg.TOTPIssuer
	engineCfg.Push.ApprovalWindow = cfg.ApprovalWindow

	builder := portalauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityProvider(identity)

	if cfg.AuditLogPath != "" {
		f, err := os.OpenFile(cfg.AuditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Fatal("open audit log", zap.String("path", cfg.AuditLogPath), zap.Error(err))
		}
		defer f.Close()
		engineCfg.Audit.Enabled = true
		builder.WithConfig(engineCfg).WithAuditSink(portalauth.NewJSONWriterSink(f))
	}
	builder.WithLatencyHistograms(true)

	engine, err := builder.Build()
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: newRouter(&server{
			engine:       engine,
			logger:       logger,
			trustedToken: cfg.TrustedChannelToken,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
