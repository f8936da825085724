package portalauth

import (
	"context"
	"time"
)

// IdentityProvider is the contract to the identity subsystem that owns user
// accounts. The engine verifies credentials and reads the account email
// through it; it never mutates users.
//
// Authenticate must return an error for unknown users, wrong passwords, and
// inactive accounts alike; the engine folds every failure into
// [ErrInvalidCredentials] so responses never reveal which check failed.
type IdentityProvider interface {
	Authenticate(ctx context.Context, username, password string) (User, error)
	UserEmail(ctx context.Context, userID string) (string, error)
}

// RefreshRevoker is the optional revocation interface point for refresh
// tokens. Revocation itself is owned by the identity subsystem; when a
// revoker is installed, [Engine.Refresh] consults it by token ID before
// rotating a pair.
type RefreshRevoker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// User is the minimal account view the engine needs. It is produced by the
// [IdentityProvider] and referenced, never stored, by this package.
type User struct {
	ID       string
	Username string
	Email    string
}

// LoginOutcome is the closed set of results a password login can produce.
type LoginOutcome uint8

const (
	// OutcomeSuccess means the caller is fully authenticated. Reserved for
	// trusted channels that bypass the second factor by policy.
	OutcomeSuccess LoginOutcome = iota
	// OutcomeSetupRequired means the password was correct but no two-factor
	// device is enrolled. Full tokens are issued and the caller should be
	// steered into enrollment.
	OutcomeSetupRequired
	// OutcomeSecondFactorRequired means an active device exists; only a
	// scoped token valid for second-factor completion is issued.
	OutcomeSecondFactorRequired
)

func (o LoginOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeSetupRequired:
		return "SETUP_REQUIRED"
	case OutcomeSecondFactorRequired:
		return "2FA_REQUIRED"
	default:
		return "UNKNOWN"
	}
}

// TokenPair is a freshly minted access/refresh credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is returned by [Engine.Login]. Exactly one of Tokens or
// ScopedToken is populated, depending on Outcome.
type LoginResult struct {
	Outcome LoginOutcome
	UserID  string

	// Tokens is set for OutcomeSuccess and OutcomeSetupRequired.
	Tokens *TokenPair
	// ScopedToken is set for OutcomeSecondFactorRequired. It is valid only
	// for the second-factor completion operations.
	ScopedToken string
	// DeviceEnrolled reports whether an active device exists. Trusted-channel
	// callers use it to decide whether to offer enrollment.
	DeviceEnrolled bool
}

// EnrollmentSetup is returned by [Engine.BeginEnrollment]: the base32 secret
// for manual entry and the otpauth:// URI for QR rendering by the caller.
type EnrollmentSetup struct {
	Secret string
	URI    string
}

// Device is the public view of an enrolled TOTP device.
type Device struct {
	ID         string
	Name       string
	Active     bool
	CreatedAt  time.Time
	LastUsedAt time.Time // zero when the device was never used
}

// DeviceSync carries the shared secret of the active device to a trusted
// companion app that needs to generate codes for the same account.
type DeviceSync struct {
	Secret string
	Name   string
}

// PushStatus is the lifecycle state of a push-approval request.
type PushStatus uint8

const (
	// PushPending means the request awaits a decision.
	PushPending PushStatus = iota
	// PushApproved means a trusted session approved the login.
	PushApproved
	// PushDenied means a trusted session denied the login.
	PushDenied
	// PushExpired means the request aged out of its approval window.
	PushExpired
)

func (s PushStatus) String() string {
	switch s {
	case PushPending:
		return "PENDING"
	case PushApproved:
		return "APPROVED"
	case PushDenied:
		return "DENIED"
	case PushExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// PushDecision is the verdict a trusted session passes to
// [Engine.RespondPush].
type PushDecision uint8

const (
	// DecisionApprove approves the pending login.
	DecisionApprove PushDecision = iota
	// DecisionDeny denies the pending login.
	DecisionDeny
)

// PushRequest is the public view of a push-approval request.
type PushRequest struct {
	RequestID   string
	Status      PushStatus
	OriginIP    string
	OriginAgent string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PushStatusResult is returned by [Engine.CheckPushStatus]. Tokens is
// non-nil exactly once per approved request: the first status check after
// approval consumes the request and mints the pair; later checks still
// report PushApproved but carry no tokens.
type PushStatusResult struct {
	Status PushStatus
	Tokens *TokenPair
}

// AuthResult is the decoded identity of a validated access token.
type AuthResult struct {
	UserID string
	Scope  TokenScope
}

// TokenScope restricts what an access token may be used for.
type TokenScope string

const (
	// ScopeFull grants access to every operation.
	ScopeFull TokenScope = "full"
	// ScopeSecondFactor grants access only to the second-factor completion
	// and push-approval polling operations.
	ScopeSecondFactor TokenScope = "second-factor"
)
