package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, cfg), mr
}

func TestLoginBudgetEnforced(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		MaxLoginAttempts:    3,
		LoginCooldownPeriod: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.CheckLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("attempt %d: CheckLogin failed: %v", i+1, err)
		}
		if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("attempt %d: IncrementLogin failed: %v", i+1, err)
		}
	}

	// the over-budget increment reports the limit
	if err := limiter.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// and checks now refuse before the password is even tried
	if err := limiter.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected CheckLogin to report ErrRateLimited, got %v", err)
	}

	// other identifiers are unaffected
	if err := limiter.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("CheckLogin for other user failed: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		MaxLoginAttempts:    1,
		LoginCooldownPeriod: time.Minute,
	})
	ctx := context.Background()

	if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("IncrementLogin failed: %v", err)
	}
	if err := limiter.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)

	if err := limiter.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("CheckLogin after window failed: %v", err)
	}
	if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("IncrementLogin after window failed: %v", err)
	}
}

func TestResetLoginClearsCounter(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		MaxLoginAttempts:    2,
		LoginCooldownPeriod: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("IncrementLogin failed: %v", err)
		}
	}
	if err := limiter.ResetLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("ResetLogin failed: %v", err)
	}

	attempts, err := limiter.GetLoginAttempts(ctx, "alice")
	if err != nil {
		t.Fatalf("GetLoginAttempts failed: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("expected counter reset to 0, got %d", attempts)
	}
}

func TestIPThrottleSharedAcrossUsernames(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableIPThrottle:    true,
		MaxLoginAttempts:    2,
		LoginCooldownPeriod: time.Minute,
	})
	ctx := context.Background()

	if err := limiter.IncrementLogin(ctx, "alice", "192.0.2.1"); err != nil {
		t.Fatalf("IncrementLogin failed: %v", err)
	}
	if err := limiter.IncrementLogin(ctx, "bob", "192.0.2.1"); err != nil {
		t.Fatalf("IncrementLogin failed: %v", err)
	}

	// third distinct username from the same address trips the IP budget
	if err := limiter.IncrementLogin(ctx, "carol", "192.0.2.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from IP throttle, got %v", err)
	}
	if err := limiter.CheckLogin(ctx, "dave", "192.0.2.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected CheckLogin to trip on IP, got %v", err)
	}

	// a different address is unaffected
	if err := limiter.CheckLogin(ctx, "dave", "198.51.100.7"); err != nil {
		t.Fatalf("CheckLogin from clean IP failed: %v", err)
	}
}

func TestCodeBudgetEnforcedAndReset(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		MaxCodeAttempts:    2,
		CodeCooldownPeriod: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.IncrementCode(ctx, "u1"); err != nil {
			t.Fatalf("IncrementCode failed: %v", err)
		}
	}
	if err := limiter.IncrementCode(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	if err := limiter.ResetCode(ctx, "u1"); err != nil {
		t.Fatalf("ResetCode failed: %v", err)
	}
	if err := limiter.IncrementCode(ctx, "u1"); err != nil {
		t.Fatalf("IncrementCode after reset failed: %v", err)
	}

	// the reset window also clears on TTL
	if err := limiter.IncrementCode(ctx, "u1"); err != nil {
		t.Fatalf("IncrementCode failed: %v", err)
	}
	mr.FastForward(time.Minute + time.Second)
	if err := limiter.IncrementCode(ctx, "u1"); err != nil {
		t.Fatalf("IncrementCode after TTL failed: %v", err)
	}
}

func TestUnavailableBackendReported(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		MaxLoginAttempts:    3,
		LoginCooldownPeriod: time.Minute,
	})
	mr.Close()

	err := limiter.IncrementLogin(context.Background(), "alice", "")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
