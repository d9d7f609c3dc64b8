package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// issue starts a new session and token family at generation 0 for user.
// Sessions evicted by the limit policy have their families invalidated
// before the new pair is returned.
func (e *Engine) issue(ctx context.Context, user UserRecord) (*TokenPair, error) {
	now := e.now()

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, infra(err)
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, infra(err)
	}
	familyID := uuid.NewString()

	sess := &session.Session{
		ID:         sid.String(),
		UserID:     user.UserID,
		FamilyID:   familyID,
		UserAgent:  UserAgentFromContext(ctx),
		IP:         ClientIPFromContext(ctx),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	evicted, err := e.sessionStore.Register(ctx, sess, e.sessionLimit())
	if err != nil {
		if errors.Is(err, session.ErrLimitReached) {
			return nil, ErrSessionLimitExceeded
		}
		return nil, infra(err)
	}
	e.metricInc(MetricSessionCreated)

	err = e.refreshStore.CreateFamily(ctx,
		refresh.Family{ID: familyID, UserID: user.UserID, SessionID: sess.ID, CreatedAt: now},
		refresh.Record{
			Hash:      internal.HashRefreshSecret(secret),
			IssuedAt:  now,
			ExpiresAt: now.Add(e.config.JWT.RefreshTTL),
		},
	)
	if err != nil {
		e.abandon(ctx, sess.ID, familyID, refresh.ReasonIssueFailed)
		return nil, infra(err)
	}

	if err := e.evict(ctx, user.UserID, evicted); err != nil {
		e.abandon(ctx, sess.ID, familyID, refresh.ReasonIssueFailed)
		return nil, err
	}

	access, err := e.jwtManager.CreateAccess(accessIdentity(user, sess.ID, familyID))
	if err != nil {
		e.abandon(ctx, sess.ID, familyID, refresh.ReasonIssueFailed)
		return nil, infra(err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: internal.EncodeRefreshToken(secret),
		ExpiresIn:    e.jwtManager.AccessTTL(),
		SessionID:    sess.ID,
		FamilyID:     familyID,
	}, nil
}

// reissue mints the access token that accompanies a rotated refresh token
// of familyID.
func (e *Engine) reissue(user UserRecord, sessionID, familyID, refreshToken string) (*TokenPair, error) {
	access, err := e.jwtManager.CreateAccess(accessIdentity(user, sessionID, familyID))
	if err != nil {
		return nil, infra(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    e.jwtManager.AccessTTL(),
		SessionID:    sessionID,
		FamilyID:     familyID,
	}, nil
}

func accessIdentity(user UserRecord, sessionID, familyID string) jwt.Identity {
	return jwt.Identity{
		UserID:    user.UserID,
		Email:     user.Email,
		Roles:     user.Roles,
		OrgID:     user.OrgID,
		SessionID: sessionID,
		FamilyID:  familyID,
	}
}

func (e *Engine) sessionLimit() session.Limit {
	return session.Limit{
		Max:    e.config.Session.MaxPerUser,
		Reject: e.config.Session.LimitPolicy == LimitReject,
	}
}

// evict invalidates the families of sessions the registry ended to make
// room and records one SESSION_REVOKED event per session.
func (e *Engine) evict(ctx context.Context, userID string, evicted []session.Evicted) error {
	for _, ev := range evicted {
		e.metricInc(MetricSessionEvicted)
		if ev.FamilyID != "" {
			if _, err := e.refreshStore.InvalidateFamily(ctx, ev.FamilyID, refresh.ReasonSessionLimit, e.now()); err != nil && !errors.Is(err, refresh.ErrNotFound) {
				return infra(err)
			}
		}
		if err := e.record(ctx, SecurityEvent{
			UserID:    userID,
			Action:    ActionSessionRevoked,
			SessionID: ev.SessionID,
			FamilyID:  ev.FamilyID,
			Success:   true,
			Reason:    string(refresh.ReasonSessionLimit),
		}); err != nil {
			return err
		}
	}
	return nil
}

// abandon ends a session and invalidates its family after a partial
// issuance or an audit failure, so nothing minted for it stays usable.
func (e *Engine) abandon(ctx context.Context, sessionID, familyID string, reason refresh.Reason) {
	ctx = detached(ctx)
	now := e.now()
	if familyID != "" {
		if _, err := e.refreshStore.InvalidateFamily(ctx, familyID, reason, now); err != nil && !errors.Is(err, refresh.ErrNotFound) {
			e.logger.Error("family invalidation failed", zap.String("family_id", familyID), zap.Error(err))
		}
	}
	if sessionID != "" {
		if _, err := e.sessionStore.End(ctx, sessionID, session.EndReason(reason), now); err != nil && !errors.Is(err, session.ErrNotFound) {
			e.logger.Error("session end failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}
