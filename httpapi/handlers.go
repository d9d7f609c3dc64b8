package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type challengeReq struct {
	MFAToken string `json:"mfaToken"`
}

type verifyReq struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

type changePasswordReq struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
	// KeepCurrentSession leaves the calling session active.
	KeepCurrentSession bool `json:"keepCurrentSession"`
}

type revokeReq struct {
	Note string `json:"note"`
}

type tokenResp struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type mfaRequiredResp struct {
	MFARequired bool   `json:"mfaRequired"`
	ChallengeID string `json:"challengeId"`
	Method      string `json:"method"`
	MFAToken    string `json:"mfaToken"`
}

type challengeResp struct {
	ChallengeID string    `json:"challengeId"`
	Method      string    `json:"method"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type sessionResp struct {
	ID         string    `json:"id"`
	UserAgent  string    `json:"userAgent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Current    bool      `json:"current"`
}

func toTokenResp(p *authcore.TokenPair) tokenResp {
	return tokenResp{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.ExpiresIn / time.Second),
	}
}

func toChallengeResp(ch *authcore.Challenge) challengeResp {
	return challengeResp{ChallengeID: ch.ID, Method: ch.Method, ExpiresAt: ch.ExpiresAt.UTC()}
}

// Login: POST /login.
func (h *Handler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return badRequest(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	if res.MFARequired {
		return c.JSON(http.StatusOK, mfaRequiredResp{
			MFARequired: true,
			ChallengeID: res.ChallengeID,
			Method:      res.MFAMethod,
			MFAToken:    res.MFAToken,
		})
	}
	return c.JSON(http.StatusOK, toTokenResp(&res.TokenPair))
}

// Refresh: POST /refresh.
func (h *Handler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if req.RefreshToken == "" {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	pair, err := h.svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toTokenResp(pair))
}

// Logout: POST /logout. Unknown tokens still get 204.
func (h *Handler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if req.RefreshToken == "" {
		return c.NoContent(http.StatusNoContent)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.svc.Logout(ctx, req.RefreshToken); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MFAChallenge: POST /mfa/challenge. A body mfaToken re-issues the pending
// login challenge; otherwise a bearer access token requests a step-up
// challenge for its user.
func (h *Handler) MFAChallenge(c echo.Context) error {
	var req challengeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	var (
		ch  *authcore.Challenge
		err error
	)
	if req.MFAToken != "" {
		ch, err = h.svc.ResendChallenge(ctx, req.MFAToken)
	} else {
		id, ok := h.bearerIdentity(c)
		if !ok {
			return unauthorized(c)
		}
		ch, err = h.svc.IssueChallenge(ctx, id.UserID, authcore.PurposeStepUp)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toChallengeResp(ch))
}

// MFAVerify: POST /mfa/verify.
func (h *Handler) MFAVerify(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if req.ChallengeID == "" || req.Code == "" {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.svc.VerifyChallenge(ctx, req.ChallengeID, req.Code)
	if err != nil {
		return h.fail(c, err)
	}
	if res.Tokens == nil {
		return c.JSON(http.StatusOK, echo.Map{"verified": true})
	}
	return c.JSON(http.StatusOK, toTokenResp(res.Tokens))
}

// ListSessions: GET /sessions.
func (h *Handler) ListSessions(c echo.Context) error {
	id := identity(c)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessions, err := h.svc.ListSessions(ctx, id.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]sessionResp, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResp{
			ID:         s.ID,
			UserAgent:  s.UserAgent,
			IP:         s.IP,
			CreatedAt:  s.CreatedAt.UTC(),
			LastSeenAt: s.LastSeenAt.UTC(),
			Current:    s.ID == id.SessionID,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

// RevokeSession: DELETE /sessions/:id, restricted to the caller's sessions.
func (h *Handler) RevokeSession(c echo.Context) error {
	id := identity(c)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.svc.RevokeOwnSession(ctx, id.UserID, c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ChangePassword: POST /password/change.
func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		return badRequest(c)
	}
	id := identity(c)

	keep := ""
	if req.KeepCurrentSession {
		keep = id.SessionID
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.svc.ChangePassword(ctx, id.UserID, req.OldPassword, req.NewPassword, keep); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AdminRevokeSession: POST /admin/sessions/:id/revoke.
func (h *Handler) AdminRevokeSession(c echo.Context) error {
	var req revokeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.svc.RevokeSession(ctx, c.Param("id"), req.Note); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Health: GET /healthz. Reports store latency and the effective security
// settings; 503 when Redis is unreachable.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	report := h.svc.SecurityReport()
	latency, err := h.svc.Ping(ctx)
	if err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":         "ok",
		"storeLatencyMs": latency.Milliseconds(),
		"security": echo.Map{
			"signingAlgorithm":   report.SigningAlgorithm,
			"accessTtlSeconds":   int64(report.AccessTTL / time.Second),
			"refreshTtlSeconds":  int64(report.RefreshTTL / time.Second),
			"lockoutEnabled":     report.LockoutEnabled,
			"lockoutThreshold":   report.LockoutThreshold,
			"maxSessionsPerUser": report.MaxSessionsPerUser,
			"sessionLimitPolicy": report.SessionLimitPolicy,
			"mfaMaxAttempts":     report.MFAMaxAttempts,
			"passwordHistory":    report.PasswordHistory,
		},
	})
}
