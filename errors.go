package portalauth

import "errors"

var (
	// ErrInvalidCredentials covers unknown users, wrong passwords, and
	// inactive accounts uniformly so the caller cannot tell which failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned when login attempts exceed the budget.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrSetupConflict is returned by enrollment when an active device
	// already exists; the device must be revoked first.
	ErrSetupConflict = errors.New("two-factor device already active")
	// ErrNoPendingDevice is returned by enrollment completion when no
	// enrollment was started.
	ErrNoPendingDevice = errors.New("no pending device setup")
	// ErrNoActiveDevice is returned by second-factor verification for users
	// without an activated device.
	ErrNoActiveDevice = errors.New("no active device")
	// ErrInvalidCode covers wrong and replayed TOTP codes uniformly.
	ErrInvalidCode = errors.New("invalid code")
	// ErrCodeRateLimited is returned when code attempts exceed the budget.
	ErrCodeRateLimited = errors.New("code attempts rate limited")
	// ErrForbidden is returned when a caller operates on a device it does
	// not own.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned for missing records and, deliberately, for
	// records that belong to a different user.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned to the loser of a push-approval race:
	// the request reached a terminal status before this response landed.
	ErrAlreadyResolved = errors.New("push request already resolved")
	// ErrPushExpired is returned when responding to a push request that aged
	// out of its approval window.
	ErrPushExpired = errors.New("push request expired")
	// ErrRefreshInvalid is returned for malformed, expired, or revoked
	// refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrTokenInvalid is returned by Validate for unusable access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRegistryUnavailable signals a device registry backend failure.
	ErrRegistryUnavailable = errors.New("device registry unavailable")
	// ErrPushUnavailable signals a push store backend failure.
	ErrPushUnavailable = errors.New("push store unavailable")
	// ErrEngineNotReady is returned when the Engine was not built through
	// Builder.Build or a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)
