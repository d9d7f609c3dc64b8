package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// Action names a security event.
type Action string

const (
	ActionLogin          Action = "LOGIN"
	ActionLogout         Action = "LOGOUT"
	ActionFailedLogin    Action = "FAILED_LOGIN"
	ActionTokenRefresh   Action = "TOKEN_REFRESH"
	ActionPasswordReset  Action = "PASSWORD_RESET"
	ActionMFAChallenge   Action = "MFA_CHALLENGE"
	ActionTokenRotation  Action = "TOKEN_ROTATION"
	ActionReuseDetected  Action = "REUSE_DETECTED"
	ActionAccountLocked  Action = "ACCOUNT_LOCKED"
	ActionMFAFailed      Action = "MFA_FAILED"
	ActionMFAVerified    Action = "MFA_VERIFIED"
	ActionSessionRevoked Action = "SESSION_REVOKED"
	ActionPasswordChange Action = "PASSWORD_CHANGE"
)

// Actions lists every Action in declaration order.
var Actions = []Action{
	ActionLogin, ActionLogout, ActionFailedLogin, ActionTokenRefresh,
	ActionPasswordReset, ActionMFAChallenge, ActionTokenRotation,
	ActionReuseDetected, ActionAccountLocked, ActionMFAFailed,
	ActionMFAVerified, ActionSessionRevoked, ActionPasswordChange,
}

// alerting reports whether events of a needs a responder.
func (a Action) alerting() bool {
	switch a {
	case ActionReuseDetected, ActionAccountLocked, ActionSessionRevoked:
		return true
	}
	return false
}

// SecurityEvent is one immutable audit log entry. UserID is empty for
// attempts against unknown emails.
type SecurityEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	Action    Action            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLog is the append-only security event store. Record must return
// only after the event is durable; the engine fails the triggering request
// when it returns an error. Implementations expose no update or delete.
type AuditLog interface {
	Record(ctx context.Context, event SecurityEvent) error
}

// Alert is the notification published after an alerting event is durable.
type Alert = internalaudit.Alert

// AlertSink receives alerts from the engine's background dispatcher.
type AlertSink = internalaudit.Sink

// NoOpAlertSink discards alerts.
type NoOpAlertSink = internalaudit.NoOpSink

// ChannelAlertSink is a buffered channel-based AlertSink.
type ChannelAlertSink = internalaudit.ChannelSink

// JSONAlertSink writes one JSON alert per line.
type JSONAlertSink = internalaudit.JSONWriterSink

// NewChannelAlertSink creates a ChannelAlertSink with the given capacity.
func NewChannelAlertSink(buffer int) *ChannelAlertSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONAlertSink creates a JSONAlertSink writing to w.
func NewJSONAlertSink(w io.Writer) *JSONAlertSink {
	return internalaudit.NewJSONWriterSink(w)
}
