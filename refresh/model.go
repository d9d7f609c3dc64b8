package refresh

import "time"

// Status is the lifecycle state of a token family. Invalidated is terminal.
type Status string

const (
	StatusActive      Status = "active"
	StatusInvalidated Status = "invalidated"
)

// Reason records why a refresh record was revoked or a family invalidated.
type Reason string

const (
	ReasonRotated        Reason = "ROTATED"
	ReasonLogout         Reason = "LOGOUT"
	ReasonReuseDetected  Reason = "REUSE_DETECTED"
	ReasonAdminRevoked   Reason = "ADMIN_REVOKED"
	ReasonPasswordChange Reason = "PASSWORD_CHANGE"
	ReasonExpiredCleanup Reason = "EXPIRED_CLEANUP"
	ReasonSessionLimit   Reason = "SESSION_LIMIT"
	ReasonAuditFailure   Reason = "AUDIT_FAILURE"
	ReasonIssueFailed    Reason = "ISSUE_FAILED"
)

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonRotated, ReasonLogout, ReasonReuseDetected, ReasonAdminRevoked,
		ReasonPasswordChange, ReasonExpiredCleanup, ReasonSessionLimit, ReasonAuditFailure, ReasonIssueFailed:
		return true
	}
	return false
}

// Family is one login's chain of refresh tokens.
type Family struct {
	ID            string
	UserID        string
	SessionID     string
	CreatedAt     time.Time
	Generation    uint64
	Status        Status
	Reason        Reason
	InvalidatedAt time.Time
}

// Record is the persisted state of one refresh token. Hash is the hex
// SHA-256 of the raw token; the raw token is never stored.
type Record struct {
	Hash       string
	FamilyID   string
	Generation uint64
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	Reason     Reason
	RevokedAt  time.Time
}

// Outcome classifies a rotation attempt.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeReuse
	OutcomeExpired
	OutcomeRotated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReuse:
		return "reuse"
	case OutcomeExpired:
		return "expired"
	case OutcomeRotated:
		return "rotated"
	default:
		return "unknown"
	}
}

// RotateResult is what a single atomic rotation observed and did.
//
// For OutcomeRotated, Generation is the new record's generation. For
// OutcomeReuse, Generation is the presented record's generation and
// Invalidated reports whether this call moved the family to invalidated
// (false when an earlier call already had).
type RotateResult struct {
	Outcome     Outcome
	FamilyID    string
	UserID      string
	SessionID   string
	Generation  uint64
	Invalidated bool
}

// SweepStats summarizes one cleanup pass.
type SweepStats struct {
	Scanned         int
	Deleted         int
	ExpiredUnused   int
	FamiliesDropped int
}
