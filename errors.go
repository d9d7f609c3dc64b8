package authcore

import "errors"

// Sentinel errors returned by Engine operations. Match them with errors.Is;
// infrastructure failures are joined with the store error that caused them.
var (
	// ErrInvalidCredentials covers unknown emails, wrong passwords and
	// disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while lockout-until is in the future.
	ErrAccountLocked = errors.New("account locked")
	// ErrLoginRateLimited is returned by the per-IP login throttle.
	ErrLoginRateLimited = errors.New("login rate limited")

	// ErrTokenExpired: the refresh token exists and is unrevoked but past
	// its expiry. Nothing is revoked.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrUnknownToken: no record matches the presented refresh token.
	ErrUnknownToken = errors.New("unknown refresh token")
	// ErrTokenReused: the presented refresh token was already rotated or its
	// family is no longer active. The whole family has been invalidated.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrTokenInvalid is returned for access or MFA tokens that fail
	// signature, type or expiry checks.
	ErrTokenInvalid = errors.New("invalid token")

	ErrMfaFailed            = errors.New("mfa verification failed")
	ErrMfaExpired           = errors.New("mfa challenge expired")
	ErrMfaNotEnrolled       = errors.New("mfa not enrolled")
	ErrMfaRateLimited       = errors.New("mfa challenge issuance rate limited")
	ErrMfaDeliveryFailed    = errors.New("mfa code delivery failed")
	ErrInvalidMFAPurpose    = errors.New("invalid mfa purpose")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// ErrPasswordPolicy wraps a *password.PolicyError.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password matches the current
	// one or one of the remembered previous hashes.
	ErrPasswordReuse = errors.New("password was used recently")

	// ErrInfrastructure marks failures of a backing store, the audit log or
	// the user provider. It is never a security decision.
	ErrInfrastructure = errors.New("infrastructure unavailable")
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrUserNotFound is returned by UserProvider implementations for
	// unknown users.
	ErrUserNotFound = errors.New("user not found")
)
