package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/refresh"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ChangePassword replaces userID's password after verifying the current
// one. Every other session is ended and its family invalidated with
// PASSWORD_CHANGE; keepSessionID, if set, survives.
//
// A policy failure wraps ErrPasswordPolicy and the *password.PolicyError.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword, keepSessionID string) (err error) {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.ChangePassword", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.passwordHash.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		if err := e.record(ctx, SecurityEvent{
			UserID: userID,
			Action: ActionPasswordChange,
			Reason: "invalid_old_password",
		}); err != nil {
			return err
		}
		return ErrInvalidCredentials
	}

	ended, err := e.setPassword(ctx, user, newPassword, keepSessionID)
	if err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	return e.record(ctx, SecurityEvent{
		UserID:    userID,
		Action:    ActionPasswordChange,
		SessionID: keepSessionID,
		Success:   true,
		Metadata:  map[string]string{"sessions_ended": strconv.Itoa(ended)},
	})
}

// ResetPassword sets a new password without the current one. It is meant
// for privileged callers such as a completed recovery flow. All sessions
// end and any lockout is cleared.
func (e *Engine) ResetPassword(ctx context.Context, userID, newPassword string) (err error) {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.ResetPassword", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return err
	}

	ended, err := e.setPassword(ctx, user, newPassword, "")
	if err != nil {
		return err
	}
	if err := e.lockout.Unlock(ctx, userID); err != nil {
		e.logger.Warn("lockout clear failed", zap.String("user_id", userID), zap.Error(err))
	}

	e.metricInc(MetricPasswordReset)
	return e.record(ctx, SecurityEvent{
		UserID:   userID,
		Action:   ActionPasswordReset,
		Success:  true,
		Metadata: map[string]string{"sessions_ended": strconv.Itoa(ended)},
	})
}

func (e *Engine) lookupUser(ctx context.Context, userID string) (UserRecord, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, infra(err)
	}
	return user, nil
}

// setPassword checks policy and history, stores the new hash and revokes
// every session but keepSessionID.
func (e *Engine) setPassword(ctx context.Context, user UserRecord, newPassword, keepSessionID string) (int, error) {
	if err := e.config.PasswordPolicy.Check(newPassword); err != nil {
		return 0, errors.Join(ErrPasswordPolicy, err)
	}
	if err := e.checkHistory(ctx, user, newPassword); err != nil {
		return 0, err
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return 0, errors.Join(ErrPasswordPolicy, err)
	}
	if err := e.users.UpdatePasswordHash(ctx, user.UserID, hash); err != nil {
		return 0, infra(err)
	}

	if e.config.PasswordHistory.Enabled && user.PasswordHash != "" {
		if err := e.history.Push(ctx, user.UserID, user.PasswordHash, e.config.PasswordHistory.Depth); err != nil {
			e.logger.Warn("password history push failed", zap.String("user_id", user.UserID), zap.Error(err))
		}
	}

	return e.revokeAll(ctx, user.UserID, keepSessionID, refresh.ReasonPasswordChange)
}

func (e *Engine) checkHistory(ctx context.Context, user UserRecord, candidate string) error {
	if !e.config.PasswordHistory.Enabled {
		return nil
	}
	previous, err := e.history.Recent(ctx, user.UserID, e.config.PasswordHistory.Depth)
	if err != nil {
		return infra(err)
	}
	if user.PasswordHash != "" {
		previous = append([]string{user.PasswordHash}, previous...)
	}
	for _, h := range previous {
		if ok, _ := e.passwordHash.Verify(candidate, h); ok {
			e.metricInc(MetricPasswordChangeReuseRejected)
			return ErrPasswordReuse
		}
	}
	return nil
}
