package authcore

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state reported by the UserProvider.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	// AccountDisabled accounts cannot log in or refresh. Login reports them
	// as ErrInvalidCredentials.
	AccountDisabled
)

// MFA methods a user can be enrolled in.
const (
	MFANone  = ""
	MFATOTP  = "totp"
	MFAEmail = "email"
)

// MFA challenge purposes.
const (
	// PurposeLogin challenges complete a pending login and issue tokens.
	PurposeLogin = "login"
	// PurposeStepUp challenges only confirm possession of the factor.
	PurposeStepUp = "step_up"
)

// UserRecord is the account view the engine needs from the user database.
type UserRecord struct {
	UserID       string
	Email        string
	PasswordHash string
	Roles        []string
	OrgID        string
	Status       AccountStatus
	// MFAMethod is MFANone, MFATOTP or MFAEmail.
	MFAMethod string
	// TOTPSecret is the raw shared secret, set when MFAMethod is MFATOTP.
	TOTPSecret []byte
}

// UserProvider is implemented by the caller's user database. The engine
// never writes profile data; it only reads records and stores new password
// hashes. Unknown users are reported with ErrUserNotFound.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// OTPMessage is an email one-time code ready for delivery.
type OTPMessage struct {
	UserID      string
	Email       string
	ChallengeID string
	Code        string
	ExpiresAt   time.Time
}

// OTPSender delivers email one-time codes. Send must not retain msg.Code
// beyond delivery.
type OTPSender interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
}

// TokenPair is a freshly issued access token with its refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime.
	ExpiresIn time.Duration
	SessionID string
	FamilyID  string
}

// LoginResult carries tokens, or the pending MFA challenge when the user is
// enrolled in a second factor.
type LoginResult struct {
	TokenPair

	MFARequired bool
	MFAMethod   string
	ChallengeID string
	// MFAToken is a short-lived signed token that lets the client request a
	// fresh login challenge without sending the password again.
	MFAToken string
}

// Challenge describes an issued MFA challenge.
type Challenge struct {
	ID        string
	UserID    string
	Method    string
	Purpose   string
	ExpiresAt time.Time
}

// MFAResult is returned by a successful VerifyChallenge. Tokens is set for
// login-purpose challenges only.
type MFAResult struct {
	UserID  string
	Purpose string
	Tokens  *TokenPair
}

// SessionInfo is the public view of an active session.
type SessionInfo struct {
	ID         string
	UserID     string
	FamilyID   string
	UserAgent  string
	IP         string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Identity is the verified subject of an access token.
type Identity struct {
	UserID    string
	Email     string
	Roles     []string
	OrgID     string
	SessionID string
	FamilyID  string
	ExpiresAt time.Time
}
