package portalauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// codeAt computes the TOTP code for the given secret at the clock's current
// time, the way an authenticator app would.
func codeAt(t *testing.T, secretBase32 string, cfg TOTPConfig, now time.Time) string {
	t.Helper()

	secret, err := b32NoPad.DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := now.Unix() / int64(cfg.Period)
	code, err := hotpCode(secret, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

// enrollActiveDevice runs the full enrollment flow and leaves userID with an
// activated device. Returns the base32 secret for later code generation.
func enrollActiveDevice(t *testing.T, env *engineTestEnv, userID string) string {
	t.Helper()

	setup, err := env.engine.BeginEnrollment(context.Background(), userID, "phone")
	if err != nil {
		t.Fatalf("BeginEnrollment failed: %v", err)
	}

	code := codeAt(t, setup.Secret, env.engine.config.TOTP, env.clock.Now())
	if _, err := env.engine.CompleteEnrollment(context.Background(), userID, code); err != nil {
		t.Fatalf("CompleteEnrollment failed: %v", err)
	}
	return setup.Secret
}

func TestBeginEnrollmentReturnsSecretAndURI(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	setup, err := env.engine.BeginEnrollment(context.Background(), "u1", "phone")
	if err != nil {
		t.Fatalf("BeginEnrollment failed: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("expected non-empty secret")
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI: %q", setup.URI)
	}
	if !strings.Contains(setup.URI, "secret="+setup.Secret) {
		t.Fatal("URI does not carry the secret")
	}
	if !strings.Contains(setup.URI, "alice@example.com") {
		t.Fatalf("expected account email in URI label, got %q", setup.URI)
	}
}

func TestBeginEnrollmentResumeReturnsSameSecret(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	first, err := env.engine.BeginEnrollment(context.Background(), "u1", "phone")
	if err != nil {
		t.Fatalf("first BeginEnrollment failed: %v", err)
	}
	second, err := env.engine.BeginEnrollment(context.Background(), "u1", "phone")
	if err != nil {
		t.Fatalf("second BeginEnrollment failed: %v", err)
	}
	if first.Secret != second.Secret {
		t.Fatal("expected resumed enrollment to return the original secret")
	}
}

func TestBeginEnrollmentConflictsWithActiveDevice(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	enrollActiveDevice(t, env, "u1")

	_, err := env.engine.BeginEnrollment(context.Background(), "u1", "tablet")
	if !errors.Is(err, ErrSetupConflict) {
		t.Fatalf("expected ErrSetupConflict, got %v", err)
	}
}

func TestCompleteEnrollmentWithoutBeginFails(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	_, err := env.engine.CompleteEnrollment(context.Background(), "u1", "123456")
	if !errors.Is(err, ErrNoPendingDevice) {
		t.Fatalf("expected ErrNoPendingDevice, got %v", err)
	}
}

func TestCompleteEnrollmentWrongCodeKeepsPending(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	setup, err := env.engine.BeginEnrollment(context.Background(), "u1", "phone")
	if err != nil {
		t.Fatalf("BeginEnrollment failed: %v", err)
	}

	_, err = env.engine.CompleteEnrollment(context.Background(), "u1", "000000")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	// pending survives a wrong code; the right one still activates
	code := codeAt(t, setup.Secret, env.engine.config.TOTP, env.clock.Now())
	device, err := env.engine.CompleteEnrollment(context.Background(), "u1", code)
	if err != nil {
		t.Fatalf("CompleteEnrollment failed after wrong code: %v", err)
	}
	if !device.Active {
		t.Fatal("expected activated device to be marked active")
	}
}

func TestActivationCodeCannotBeReusedForVerification(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	setup, err := env.engine.BeginEnrollment(context.Background(), "u1", "phone")
	if err != nil {
		t.Fatalf("BeginEnrollment failed: %v", err)
	}
	code := codeAt(t, setup.Secret, env.engine.config.TOTP, env.clock.Now())
	if _, err := env.engine.CompleteEnrollment(context.Background(), "u1", code); err != nil {
		t.Fatalf("CompleteEnrollment failed: %v", err)
	}

	_, err = env.engine.VerifySecondFactor(context.Background(), "u1", code)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected activation code replay to fail, got %v", err)
	}
}

func TestVerifySecondFactorIssuesTokens(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	secret := enrollActiveDevice(t, env, "u1")

	// move past the activation step so a fresh code exists
	env.clock.Advance(time.Duration(env.engine.config.TOTP.Period) * time.Second)

	code := codeAt(t, secret, env.engine.config.TOTP, env.clock.Now())
	tokens, err := env.engine.VerifySecondFactor(context.Background(), "u1", code)
	if err != nil {
		t.Fatalf("VerifySecondFactor failed: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	auth, err := env.engine.Validate(context.Background(), tokens.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if auth.Scope != ScopeFull {
		t.Fatalf("expected full scope, got %q", auth.Scope)
	}
}

func TestVerifySecondFactorRejectsReplay(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	secret := enrollActiveDevice(t, env, "u1")
	env.clock.Advance(time.Duration(env.engine.config.TOTP.Period) * time.Second)

	code := codeAt(t, secret, env.engine.config.TOTP, env.clock.Now())
	if _, err := env.engine.VerifySecondFactor(context.Background(), "u1", code); err != nil {
		t.Fatalf("first VerifySecondFactor failed: %v", err)
	}

	_, err := env.engine.VerifySecondFactor(context.Background(), "u1", code)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected replay to fail with ErrInvalidCode, got %v", err)
	}
}

func TestVerifySecondFactorWithoutDevice(t *testing.T) {
	env, done := newTestEngine(t, testConfig())
	defer done()

	_, err := env.engine.VerifySecondFactor(context.Background(), "u1", "123456")
	if !errors.Is(err, ErrNoActiveDevice) {
		t.Fatalf("expected ErrNoActiveDevice, got %v", err)
	}
}

func TestVerifySecondFactorRateLimited(t *testing.T) {
	cfg := testConfig()
	env, done := newTestEngine(t, cfg)
	defer done()

	secret := enrollActiveDevice(t, env, "u1")
	env.clock.Advance(time.Duration(cfg.TOTP.Period) * time.Second)

	for i := 0; i < cfg.RateLimit.MaxCodeAttempts; i++ {
		if _, err := env.engine.VerifySecondFactor(context.Background(), "u1", "000000"); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}

	// budget exhausted, even the right code is refused
	code := codeAt(t, secret, env.engine.config.TOTP, env.clock.Now())
	_, err := env.engine.VerifySecondFactor(context.Background(), "u1", code)
	if !errors.Is(err, ErrCodeRateLimited) {
		t.Fatalf("expected ErrCodeRateLimited, got %v", err)
	}

	env.redis.FastForward(cfg.RateLimit.CodeCooldown + time.Second)

	if _, err := env.engine.VerifySecondFactor(context.Background(), "u1", code); err != nil {
		t.Fatalf("VerifySecondFactor after cooldown failed: %v", err)
	}
}
