package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
)

// CredentialFailureKind classifies credential verification failures for
// root-level mapping.
type CredentialFailureKind int

const (
	CredentialFailureNone CredentialFailureKind = iota
	CredentialFailureRateLimited
	CredentialFailureLocked
	CredentialFailureInvalid
	CredentialFailureBackend
)

// CredentialUser is the flow-local view of an account.
type CredentialUser struct {
	UserID       string
	PasswordHash string
	Disabled     bool
}

// CredentialResult is Authenticated (Failure == None, UserID set) or
// Rejected.
type CredentialResult struct {
	Failure CredentialFailureKind
	Err     error
	// UserID is empty when the email is unknown.
	UserID string
	// Reason is a stable audit reason code.
	Reason string

	Lockout limiters.LockoutState
	// UpgradedHash is a fresh Argon2id hash to persist when the stored one
	// was legacy or weaker than current parameters.
	UpgradedHash string
}

// CredentialDeps captures credential verification dependencies.
type CredentialDeps struct {
	Now func() time.Time

	// AllowLogin reports false once ip has spent its attempt budget.
	AllowLogin    func(ctx context.Context, ip string) (bool, error)
	FindUser      func(ctx context.Context, email string) (CredentialUser, bool, error)
	LockedUntil   func(ctx context.Context, userID string, now time.Time) (time.Time, error)
	RecordFailure func(ctx context.Context, userID string, now time.Time) (limiters.LockoutState, error)
	ResetFailures func(ctx context.Context, userID string) error

	VerifyPassword func(password, hash string) (bool, error)
	NeedsUpgrade   func(hash string) (bool, error)
	HashPassword   func(password string) (string, error)
	// DummyHash is verified for unknown emails so they cost the same as a
	// wrong password.
	DummyHash string

	Warn func(msg string, err error)
}

// Audit reason codes for credential rejections.
const (
	ReasonRateLimited     = "rate_limited"
	ReasonLocked          = "account_locked"
	ReasonUnknownEmail    = "unknown_email"
	ReasonBadPassword     = "bad_password"
	ReasonAccountDisabled = "account_disabled"
	ReasonBackend         = "backend_unavailable"
)

// RunVerifyCredentials implements verify(email, password). The lock is
// checked before the hash so a locked account learns nothing from the
// password; every other rejection spends one hash computation.
func RunVerifyCredentials(ctx context.Context, email, password, ip string, deps CredentialDeps) CredentialResult {
	now := deps.Now()

	if deps.AllowLogin != nil {
		allowed, err := deps.AllowLogin(ctx, ip)
		if err != nil {
			return CredentialResult{Failure: CredentialFailureBackend, Err: err, Reason: ReasonBackend}
		}
		if !allowed {
			return CredentialResult{Failure: CredentialFailureRateLimited, Reason: ReasonRateLimited}
		}
	}

	user, found, err := deps.FindUser(ctx, email)
	if err != nil {
		return CredentialResult{Failure: CredentialFailureBackend, Err: err, Reason: ReasonBackend}
	}
	if !found {
		_, _ = deps.VerifyPassword(password, deps.DummyHash)
		return CredentialResult{Failure: CredentialFailureInvalid, Reason: ReasonUnknownEmail}
	}

	until, err := deps.LockedUntil(ctx, user.UserID, now)
	if err != nil {
		return CredentialResult{Failure: CredentialFailureBackend, Err: err, UserID: user.UserID, Reason: ReasonBackend}
	}
	if !until.IsZero() {
		return CredentialResult{
			Failure: CredentialFailureLocked,
			UserID:  user.UserID,
			Reason:  ReasonLocked,
			Lockout: limiters.LockoutState{Locked: true, Until: until},
		}
	}

	ok, verifyErr := deps.VerifyPassword(password, user.PasswordHash)
	if verifyErr != nil && deps.Warn != nil {
		deps.Warn("stored password hash unusable", verifyErr)
	}

	if user.Disabled {
		return CredentialResult{Failure: CredentialFailureInvalid, UserID: user.UserID, Reason: ReasonAccountDisabled}
	}

	if !ok {
		state, err := deps.RecordFailure(ctx, user.UserID, now)
		if err != nil {
			return CredentialResult{Failure: CredentialFailureBackend, Err: err, UserID: user.UserID, Reason: ReasonBackend}
		}
		res := CredentialResult{Failure: CredentialFailureInvalid, UserID: user.UserID, Reason: ReasonBadPassword, Lockout: state}
		if state.Triggered {
			res.Reason = ReasonLocked
		}
		return res
	}

	if err := deps.ResetFailures(ctx, user.UserID); err != nil && deps.Warn != nil {
		deps.Warn("lockout counter reset failed", err)
	}

	res := CredentialResult{UserID: user.UserID}
	if upgrade, err := deps.NeedsUpgrade(user.PasswordHash); err == nil && upgrade {
		if hash, err := deps.HashPassword(password); err == nil {
			res.UpgradedHash = hash
		} else if deps.Warn != nil {
			deps.Warn("password rehash failed", err)
		}
	}
	return res
}
