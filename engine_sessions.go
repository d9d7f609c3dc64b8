package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/session"
	"go.opentelemetry.io/otel/attribute"
)

// ListSessions returns the user's active sessions, oldest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessionStore.ListActive(ctx, userID)
	if err != nil {
		return nil, infra(err)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:         s.ID,
			UserID:     s.UserID,
			FamilyID:   s.FamilyID,
			UserAgent:  s.UserAgent,
			IP:         s.IP,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
		})
	}
	return out, nil
}

// RevokeSession is an administrative forced logout. The session ends and
// its family is invalidated with ADMIN_REVOKED; note is kept on the event.
func (e *Engine) RevokeSession(ctx context.Context, sessionID, note string) (err error) {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.RevokeSession", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return infra(err)
	}
	return e.revoke(ctx, sess, refresh.ReasonAdminRevoked, note)
}

// RevokeOwnSession ends one of userID's own sessions. Sessions belonging
// to someone else are reported as not found.
func (e *Engine) RevokeOwnSession(ctx context.Context, userID, sessionID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return infra(err)
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}
	return e.revoke(ctx, sess, refresh.ReasonLogout, "")
}

func (e *Engine) revoke(ctx context.Context, sess *session.Session, reason refresh.Reason, note string) error {
	if !sess.Active() {
		return ErrSessionNotFound
	}
	changed, err := e.endFamily(ctx, sess.FamilyID, sess.ID, reason)
	if err != nil {
		return err
	}
	if !changed {
		return ErrSessionNotFound
	}

	e.metricInc(MetricSessionRevoked)
	ev := SecurityEvent{
		UserID:    sess.UserID,
		Action:    ActionSessionRevoked,
		SessionID: sess.ID,
		FamilyID:  sess.FamilyID,
		Success:   true,
		Reason:    string(reason),
	}
	if note != "" {
		ev.Metadata = map[string]string{"note": note}
	}
	return e.record(ctx, ev)
}

// LogoutAll ends every session of userID and invalidates every family.
// It returns the number of sessions ended.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.revokeAll(ctx, userID, "", refresh.ReasonLogout)
	if err != nil {
		return n, err
	}
	e.metricInc(MetricLogoutAll)
	return n, e.record(ctx, SecurityEvent{
		UserID:   userID,
		Action:   ActionLogout,
		Success:  true,
		Reason:   "all_sessions",
		Metadata: map[string]string{"sessions": strconv.Itoa(n)},
	})
}

// revokeAll ends every session and family of userID except keepSessionID
// and its family.
func (e *Engine) revokeAll(ctx context.Context, userID, keepSessionID string, reason refresh.Reason) (int, error) {
	sessions, err := e.sessionStore.ListActive(ctx, userID)
	if err != nil {
		return 0, infra(err)
	}
	keepFamily := ""
	ended := 0
	for _, s := range sessions {
		if s.ID == keepSessionID {
			keepFamily = s.FamilyID
			continue
		}
		changed, err := e.endFamily(ctx, s.FamilyID, s.ID, reason)
		if err != nil {
			return ended, err
		}
		if changed {
			ended++
		}
	}

	// Families whose session already left the index are still swept.
	families, err := e.refreshStore.FamiliesForUser(ctx, userID)
	if err != nil {
		return ended, infra(err)
	}
	now := e.now()
	for _, fid := range families {
		if fid == keepFamily {
			continue
		}
		if _, err := e.refreshStore.InvalidateFamily(ctx, fid, reason, now); err != nil && !errors.Is(err, refresh.ErrNotFound) {
			return ended, infra(err)
		}
	}
	return ended, nil
}
