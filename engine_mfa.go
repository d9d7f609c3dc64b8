package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TOTPEnrollment is a freshly generated TOTP secret. The caller stores
// Secret with the user record once the user confirms a first code.
type TOTPEnrollment struct {
	Secret       []byte
	SecretBase32 string
	URI          string
}

// GenerateTOTPSecret creates a secret and its otpauth:// provisioning URI
// for account.
func (e *Engine) GenerateTOTPSecret(account string) (*TOTPEnrollment, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	raw, b32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	return &TOTPEnrollment{Secret: raw, SecretBase32: b32, URI: e.totp.ProvisionURI(b32, account)}, nil
}

// ProvisionURI builds the otpauth:// URI for an existing base32 secret.
func (e *Engine) ProvisionURI(secretBase32, account string) string {
	return e.totp.ProvisionURI(secretBase32, account)
}

// IssueChallenge starts an MFA challenge for userID in its enrolled method.
// Email challenges deliver a fresh one-time code through the OTPSender.
func (e *Engine) IssueChallenge(ctx context.Context, userID, purpose string) (_ *Challenge, err error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.IssueChallenge", attribute.String("mfa.purpose", purpose))
	defer func() { endSpan(span, err) }()

	if purpose != PurposeLogin && purpose != PurposeStepUp {
		return nil, ErrInvalidMFAPurpose
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMfaNotEnrolled
		}
		return nil, infra(err)
	}
	if user.Status != AccountActive || user.MFAMethod == MFANone {
		return nil, ErrMfaNotEnrolled
	}
	return e.newChallenge(ctx, user, purpose)
}

// ResendChallenge issues a new login challenge for the pending login named
// by mfaToken, discarding the challenge the token was minted with.
func (e *Engine) ResendChallenge(ctx context.Context, mfaToken string) (*Challenge, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseMFA(mfaToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := e.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, infra(err)
	}
	if user.Status != AccountActive || user.MFAMethod == MFANone {
		return nil, ErrTokenInvalid
	}
	if claims.ChallengeID != "" {
		if _, err := e.challenges.Delete(ctx, claims.ChallengeID); err != nil {
			e.logger.Warn("stale challenge delete failed", zap.Error(err))
		}
	}
	return e.newChallenge(ctx, user, PurposeLogin)
}

func (e *Engine) beginMFALogin(ctx context.Context, user UserRecord) (*LoginResult, error) {
	ch, err := e.newChallenge(ctx, user, PurposeLogin)
	if err != nil {
		return nil, err
	}
	token, err := e.jwtManager.CreateMFA(user.UserID, ch.ID)
	if err != nil {
		_, _ = e.challenges.Delete(detached(ctx), ch.ID)
		return nil, infra(err)
	}
	e.metricInc(MetricMFARequired)
	return &LoginResult{
		MFARequired: true,
		MFAMethod:   ch.Method,
		ChallengeID: ch.ID,
		MFAToken:    token,
	}, nil
}

func (e *Engine) newChallenge(ctx context.Context, user UserRecord, purpose string) (*Challenge, error) {
	if err := e.rateLimiter.AllowMFAIssue(ctx, user.UserID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, ErrMfaRateLimited
		}
		return nil, infra(err)
	}

	now := e.now()
	ttl := e.config.MFA.ChallengeTTL
	ch := &stores.MFAChallenge{
		ID:        uuid.NewString(),
		UserID:    user.UserID,
		Method:    user.MFAMethod,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	var code string
	if user.MFAMethod == MFAEmail {
		otp, err := internal.NewOTP(e.config.MFA.OTPDigits)
		if err != nil {
			return nil, infra(err)
		}
		code = otp
		ch.CodeHash = internal.HashOTP(code)
	}

	if err := e.challenges.Save(ctx, ch, ttl); err != nil {
		return nil, infra(err)
	}

	if user.MFAMethod == MFAEmail {
		if err := e.sendOTP(ctx, OTPMessage{
			UserID:      user.UserID,
			Email:       user.Email,
			ChallengeID: ch.ID,
			Code:        code,
			ExpiresAt:   ch.ExpiresAt,
		}); err != nil {
			_, _ = e.challenges.Delete(detached(ctx), ch.ID)
			return nil, err
		}
	}

	if err := e.record(ctx, SecurityEvent{
		UserID:  user.UserID,
		Action:  ActionMFAChallenge,
		Success: true,
		Reason:  purpose,
		Metadata: map[string]string{
			"challenge_id": ch.ID,
			"method":       ch.Method,
		},
	}); err != nil {
		_, _ = e.challenges.Delete(detached(ctx), ch.ID)
		return nil, err
	}

	e.metricInc(MetricMFAChallengeIssued)
	return &Challenge{
		ID:        ch.ID,
		UserID:    ch.UserID,
		Method:    ch.Method,
		Purpose:   ch.Purpose,
		ExpiresAt: ch.ExpiresAt,
	}, nil
}

func (e *Engine) sendOTP(ctx context.Context, msg OTPMessage) error {
	if e.otpSender == nil {
		return ErrMfaDeliveryFailed
	}
	if err := e.otpSender.SendOTP(ctx, msg); err != nil {
		e.logger.Warn("otp delivery failed", zap.String("user_id", msg.UserID), zap.Error(err))
		return errors.Join(ErrMfaDeliveryFailed, err)
	}
	return nil
}

// VerifyChallenge checks code against a challenge. A login challenge that
// passes completes the pending login and returns tokens.
//
// Wrong codes return ErrMfaFailed; missing, consumed, expired or exhausted
// challenges return ErrMfaExpired. Neither locks the account.
func (e *Engine) VerifyChallenge(ctx context.Context, challengeID, code string) (_ *MFAResult, err error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.VerifyChallenge")
	defer func() { endSpan(span, err) }()

	res := flows.RunVerifyChallenge(ctx, challengeID, code, e.flows.MFA)
	if res.Failure == flows.MFAFailureBackend {
		return nil, infra(res.Err)
	}

	ch := res.Challenge
	var userID, method string
	if ch != nil {
		userID, method = ch.UserID, ch.Method
	}

	if res.Failure != flows.MFAFailureNone {
		out := ErrMfaFailed
		switch res.Failure {
		case flows.MFAFailureGone:
			out = ErrMfaExpired
		case flows.MFAFailureReplay:
			e.metricInc(MetricMFAReplay)
		case flows.MFAFailureExhausted:
			e.metricInc(MetricMFAExhausted)
		}
		e.metricInc(MetricMFAFailure)

		if err := e.record(ctx, SecurityEvent{
			UserID: userID,
			Action: ActionMFAFailed,
			Reason: res.Reason,
			Metadata: map[string]string{
				"challenge_id": challengeID,
				"method":       method,
				"attempts":     strconv.Itoa(res.Attempts),
			},
		}); err != nil {
			return nil, err
		}
		return nil, out
	}

	e.metricInc(MetricMFASuccess)
	meta := map[string]string{"challenge_id": challengeID, "method": method}
	if err := e.record(ctx, SecurityEvent{
		UserID:   userID,
		Action:   ActionMFAVerified,
		Success:  true,
		Reason:   ch.Purpose,
		Metadata: meta,
	}); err != nil {
		return nil, err
	}

	out := &MFAResult{UserID: userID, Purpose: ch.Purpose}
	if ch.Purpose != PurposeLogin {
		return out, nil
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMfaFailed
		}
		return nil, infra(err)
	}
	if user.Status != AccountActive {
		return nil, ErrMfaFailed
	}
	pair, err := e.completeLogin(ctx, user, map[string]string{"mfa_method": method})
	if err != nil {
		return nil, err
	}
	out.Tokens = pair
	return out, nil
}
