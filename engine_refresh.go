package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/session"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Refresh exchanges a refresh token for a new pair in the same family.
//
// The presented record is revoked and its successor stored in one atomic
// step, so at most one concurrent caller wins. Presenting a revoked token,
// or any token of a family that is no longer active, invalidates the whole
// family, ends its session and returns ErrTokenReused.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (_ *TokenPair, err error) {
	if e == nil || e.refreshStore == nil {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.Refresh")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() { e.metrics.Observe(MetricRefreshLatency, time.Since(start)) }()

	res := flows.RunRotate(ctx, refreshToken, e.flows.Rotate)
	if res.FamilyID != "" {
		span.SetAttributes(attribute.String("family.id", res.FamilyID))
	}

	switch res.Failure {
	case flows.RotateFailureNone:
	case flows.RotateFailureDecode, flows.RotateFailureUnknown:
		e.metricInc(MetricRefreshFailure)
		return nil, ErrUnknownToken
	case flows.RotateFailureExpired:
		e.metricInc(MetricRefreshExpired)
		if err := e.record(ctx, SecurityEvent{
			UserID:    res.UserID,
			Action:    ActionTokenRefresh,
			SessionID: res.SessionID,
			FamilyID:  res.FamilyID,
			Reason:    "expired",
		}); err != nil {
			return nil, err
		}
		return nil, ErrTokenExpired
	case flows.RotateFailureReuse:
		return nil, e.onReuse(ctx, res)
	default:
		e.metricInc(MetricRefreshFailure)
		return nil, infra(res.Err)
	}

	user, err := e.users.GetUserByID(ctx, res.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		e.abandon(ctx, res.SessionID, res.FamilyID, refresh.ReasonIssueFailed)
		return nil, infra(err)
	}
	if err != nil || user.Status != AccountActive {
		e.abandon(ctx, res.SessionID, res.FamilyID, refresh.ReasonAdminRevoked)
		e.metricInc(MetricRefreshFailure)
		return nil, ErrUnknownToken
	}

	if err := e.sessionStore.Touch(ctx, res.SessionID, e.now()); err != nil {
		switch {
		case errors.Is(err, session.ErrEnded), errors.Is(err, session.ErrNotFound):
			// The session ended between eviction and family invalidation.
			e.abandon(ctx, "", res.FamilyID, refresh.ReasonSessionLimit)
			e.metricInc(MetricRefreshFailure)
			return nil, ErrUnknownToken
		default:
			e.logger.Warn("session touch failed", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}

	pair, err := e.reissue(user, res.SessionID, res.FamilyID, res.RefreshToken)
	if err != nil {
		e.abandon(ctx, res.SessionID, res.FamilyID, refresh.ReasonIssueFailed)
		return nil, err
	}

	if err := e.record(ctx, SecurityEvent{
		UserID:    user.UserID,
		Action:    ActionTokenRotation,
		SessionID: res.SessionID,
		FamilyID:  res.FamilyID,
		Success:   true,
		Metadata:  map[string]string{"generation": strconv.FormatUint(res.Generation, 10)},
	}); err != nil {
		e.abandon(ctx, res.SessionID, res.FamilyID, refresh.ReasonAuditFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	return pair, nil
}

// onReuse handles a replayed refresh token. The store has already
// invalidated the family; this ends the session and records the event.
func (e *Engine) onReuse(ctx context.Context, res flows.RotateResult) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected",
		zap.String("user_id", res.UserID),
		zap.String("family_id", res.FamilyID),
		zap.Uint64("generation", res.Generation),
	)

	if res.SessionID != "" {
		if _, err := e.sessionStore.End(ctx, res.SessionID, session.EndReuseDetected, e.now()); err != nil && !errors.Is(err, session.ErrNotFound) {
			return infra(err)
		}
	}

	if err := e.record(ctx, SecurityEvent{
		UserID:    res.UserID,
		Action:    ActionReuseDetected,
		SessionID: res.SessionID,
		FamilyID:  res.FamilyID,
		Reason:    string(refresh.ReasonReuseDetected),
		Metadata: map[string]string{
			"generation":  strconv.FormatUint(res.Generation, 10),
			"invalidated": strconv.FormatBool(res.FamilyInvalidated),
		},
	}); err != nil {
		return err
	}
	return ErrTokenReused
}

// Logout invalidates the family of refreshToken and ends its session.
// Unknown and malformed tokens are accepted silently.
func (e *Engine) Logout(ctx context.Context, refreshToken string) (err error) {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.Logout")
	defer func() { endSpan(span, err) }()

	secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	rec, err := e.refreshStore.Lookup(ctx, internal.HashRefreshSecret(secret))
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return nil
		}
		return infra(err)
	}
	fam, err := e.refreshStore.GetFamily(ctx, rec.FamilyID)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return nil
		}
		return infra(err)
	}

	changed, err := e.endFamily(ctx, fam.ID, fam.SessionID, refresh.ReasonLogout)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	e.metricInc(MetricLogout)
	return e.record(ctx, SecurityEvent{
		UserID:    fam.UserID,
		Action:    ActionLogout,
		SessionID: fam.SessionID,
		FamilyID:  fam.ID,
		Success:   true,
	})
}

// endFamily invalidates a family and ends its session with the matching
// reason. It reports whether either was still active.
func (e *Engine) endFamily(ctx context.Context, familyID, sessionID string, reason refresh.Reason) (bool, error) {
	now := e.now()
	changed := false
	if familyID != "" {
		ok, err := e.refreshStore.InvalidateFamily(ctx, familyID, reason, now)
		if err != nil && !errors.Is(err, refresh.ErrNotFound) {
			return false, infra(err)
		}
		changed = changed || ok
	}
	if sessionID != "" {
		res, err := e.sessionStore.End(ctx, sessionID, session.EndReason(reason), now)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return changed, infra(err)
		}
		changed = changed || res.Changed
	}
	return changed, nil
}
