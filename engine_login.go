package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/refresh"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Login verifies email and password. Users enrolled in MFA get a pending
// login challenge instead of tokens; everyone else gets a new session and
// a generation-0 token pair.
//
// Every attempt is recorded as LOGIN or FAILED_LOGIN before Login returns.
// If that write fails Login returns ErrInfrastructure and anything it
// minted is invalidated.
func (e *Engine) Login(ctx context.Context, email, password string) (_ *LoginResult, err error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.Login")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	email = normalizeEmail(email)
	var user UserRecord
	deps := e.flows.Credentials
	deps.FindUser = func(ctx context.Context, email string) (flows.CredentialUser, bool, error) {
		u, err := e.users.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return flows.CredentialUser{}, false, nil
			}
			return flows.CredentialUser{}, false, err
		}
		user = u
		return flows.CredentialUser{
			UserID:       u.UserID,
			PasswordHash: u.PasswordHash,
			Disabled:     u.Status != AccountActive,
		}, true, nil
	}

	res := flows.RunVerifyCredentials(ctx, email, password, ClientIPFromContext(ctx), deps)
	if res.Failure != flows.CredentialFailureNone {
		return nil, e.rejectLogin(ctx, email, res)
	}
	span.SetAttributes(attribute.String("user.id", user.UserID))

	if res.UpgradedHash != "" {
		if err := e.users.UpdatePasswordHash(ctx, user.UserID, res.UpgradedHash); err != nil {
			e.logger.Warn("password hash upgrade failed", zap.String("user_id", user.UserID), zap.Error(err))
		} else {
			e.metricInc(MetricPasswordUpgraded)
		}
	}

	if user.MFAMethod != MFANone {
		return e.beginMFALogin(ctx, user)
	}

	pair, err := e.completeLogin(ctx, user, nil)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair}, nil
}

// completeLogin issues tokens and records LOGIN. meta is attached to the
// event.
func (e *Engine) completeLogin(ctx context.Context, user UserRecord, meta map[string]string) (*TokenPair, error) {
	pair, err := e.issue(ctx, user)
	if err != nil {
		if errors.Is(err, ErrSessionLimitExceeded) {
			e.metricInc(MetricLoginFailure)
			if auditErr := e.record(ctx, SecurityEvent{
				UserID: user.UserID,
				Action: ActionFailedLogin,
				Reason: "session_limit",
			}); auditErr != nil {
				return nil, auditErr
			}
		}
		return nil, err
	}

	if err := e.record(ctx, SecurityEvent{
		UserID:    user.UserID,
		Action:    ActionLogin,
		SessionID: pair.SessionID,
		FamilyID:  pair.FamilyID,
		Success:   true,
		Metadata:  meta,
	}); err != nil {
		e.abandon(ctx, pair.SessionID, pair.FamilyID, refresh.ReasonAuditFailure)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	return pair, nil
}

func (e *Engine) rejectLogin(ctx context.Context, email string, res flows.CredentialResult) error {
	if res.Failure == flows.CredentialFailureBackend {
		e.metricInc(MetricLoginFailure)
		return infra(res.Err)
	}

	var out error
	switch res.Failure {
	case flows.CredentialFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		out = ErrLoginRateLimited
	case flows.CredentialFailureLocked:
		e.metricInc(MetricLoginLocked)
		out = ErrAccountLocked
	default:
		e.metricInc(MetricLoginFailure)
		out = ErrInvalidCredentials
	}

	meta := map[string]string{}
	if res.UserID == "" {
		meta["email_hash"] = emailDigest(email)
	}
	if res.Lockout.Failures > 0 {
		meta["failures"] = strconv.Itoa(res.Lockout.Failures)
	}
	if err := e.record(ctx, SecurityEvent{
		UserID:   res.UserID,
		Action:   ActionFailedLogin,
		Reason:   res.Reason,
		Metadata: meta,
	}); err != nil {
		return err
	}

	if res.Lockout.Triggered {
		e.metricInc(MetricAccountLocked)
		if err := e.record(ctx, SecurityEvent{
			UserID:  res.UserID,
			Action:  ActionAccountLocked,
			Success: true,
			Reason:  "threshold_reached",
			Metadata: map[string]string{
				"failures":     strconv.Itoa(res.Lockout.Failures),
				"locked_until": res.Lockout.Until.UTC().Format(time.RFC3339),
			},
		}); err != nil {
			return err
		}
	}
	return out
}

// UnlockAccount clears a lockout and its failure counter.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil || e.lockout == nil {
		return ErrEngineNotReady
	}
	if err := e.lockout.Unlock(ctx, userID); err != nil {
		return infra(err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailDigest identifies an unknown email in audit metadata without
// storing the address.
func emailDigest(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:8])
}
