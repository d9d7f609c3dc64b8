package session

import "time"

// Status of a session. Ended is terminal.
type Status uint8

const (
	StatusActive Status = 1
	StatusEnded  Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// EndReason records why a session ended. The values match the revocation
// reasons of the session's token family.
type EndReason string

const (
	EndNone           EndReason = ""
	EndLogout         EndReason = "LOGOUT"
	EndReuseDetected  EndReason = "REUSE_DETECTED"
	EndAdminRevoked   EndReason = "ADMIN_REVOKED"
	EndPasswordChange EndReason = "PASSWORD_CHANGE"
	EndSessionLimit   EndReason = "SESSION_LIMIT"
	EndAuditFailure   EndReason = "AUDIT_FAILURE"
	EndExpired        EndReason = "EXPIRED_CLEANUP"
	EndIssueFailed    EndReason = "ISSUE_FAILED"
)

// endReasonCodes is the on-disk encoding of EndReason. Append only.
var endReasonCodes = []EndReason{
	EndNone,
	EndLogout,
	EndReuseDetected,
	EndAdminRevoked,
	EndPasswordChange,
	EndSessionLimit,
	EndAuditFailure,
	EndExpired,
	EndIssueFailed,
}

func (r EndReason) code() (byte, bool) {
	for i, v := range endReasonCodes {
		if v == r {
			return byte(i), true
		}
	}
	return 0, false
}

func endReasonFromCode(c byte) EndReason {
	if int(c) < len(endReasonCodes) {
		return endReasonCodes[c]
	}
	return EndNone
}

// Session is one login on one client. It lives as long as its token
// family; the fingerprint is captured at creation and never updated.
type Session struct {
	ID         string
	UserID     string
	FamilyID   string
	UserAgent  string
	IP         string
	CreatedAt  time.Time
	LastSeenAt time.Time
	Status     Status
	EndedAt    time.Time
	EndReason  EndReason
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool { return s.Status == StatusActive }
