package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
)

// MFA methods carried on a challenge.
const (
	MethodTOTP  = "totp"
	MethodEmail = "email"
)

// MFAFailureKind classifies challenge verification failures.
type MFAFailureKind int

const (
	MFAFailureNone MFAFailureKind = iota
	// MFAFailureGone: missing, consumed, exhausted or expired challenge.
	MFAFailureGone
	MFAFailureWrongCode
	MFAFailureReplay
	MFAFailureExhausted
	MFAFailureNotEnrolled
	MFAFailureBackend
)

// MFAResult is the outcome of presenting a code to a challenge.
type MFAResult struct {
	Failure   MFAFailureKind
	Err       error
	Challenge *stores.MFAChallenge
	Attempts  int
	// Reason is a stable audit reason code.
	Reason string
}

type ChallengeStore interface {
	Get(ctx context.Context, id string) (*stores.MFAChallenge, error)
	ConsumeCode(ctx context.Context, id, codeHash string, maxAttempts int, now time.Time) (stores.ChallengeResult, error)
	RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (stores.ChallengeResult, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// MFADeps captures challenge verification dependencies.
type MFADeps struct {
	Now         func() time.Time
	MaxAttempts int
	Challenges  ChallengeStore
	HashOTP     func(string) string

	TOTPSecret func(ctx context.Context, userID string) ([]byte, bool, error)
	VerifyTOTP func(secret []byte, code string, now time.Time) (bool, int64, error)
	// AdvanceCounter moves the per-user last-used counter forward and
	// reports false when counter is not newer.
	AdvanceCounter func(ctx context.Context, userID string, counter int64) (bool, error)
}

// Audit reason codes for MFA rejections.
const (
	ReasonChallengeGone = "challenge_gone"
	ReasonWrongCode     = "wrong_code"
	ReasonReplay        = "replay"
	ReasonExhausted     = "attempts_exhausted"
	ReasonNotEnrolled   = "not_enrolled"
)

// RunVerifyChallenge checks code against challenge id. Email codes are
// compared and consumed by one store script; TOTP codes are computed here,
// then the replay counter is advanced and the challenge deleted, and only
// the caller whose delete succeeds passes.
func RunVerifyChallenge(ctx context.Context, id, code string, deps MFADeps) MFAResult {
	now := deps.Now()

	ch, err := deps.Challenges.Get(ctx, id)
	if err != nil && !errors.Is(err, stores.ErrChallengeNotFound) {
		return MFAResult{Failure: MFAFailureBackend, Err: err, Reason: ReasonBackend}
	}
	if ch == nil {
		return MFAResult{Failure: MFAFailureGone, Reason: ReasonChallengeGone}
	}

	if ch.Method == MethodEmail {
		res, err := deps.Challenges.ConsumeCode(ctx, id, deps.HashOTP(code), deps.MaxAttempts, now)
		if err != nil {
			return MFAResult{Failure: MFAFailureBackend, Err: err, Challenge: ch, Reason: ReasonBackend}
		}
		return fromStoreOutcome(res, ch, ReasonWrongCode)
	}

	if !ch.ExpiresAt.After(now) {
		_, _ = deps.Challenges.Delete(ctx, id)
		return MFAResult{Failure: MFAFailureGone, Challenge: ch, Reason: ReasonChallengeGone}
	}

	secret, enrolled, err := deps.TOTPSecret(ctx, ch.UserID)
	if err != nil {
		return MFAResult{Failure: MFAFailureBackend, Err: err, Challenge: ch, Reason: ReasonBackend}
	}
	if !enrolled {
		return MFAResult{Failure: MFAFailureNotEnrolled, Challenge: ch, Reason: ReasonNotEnrolled}
	}

	ok, counter, err := deps.VerifyTOTP(secret, code, now)
	if err != nil {
		return MFAResult{Failure: MFAFailureBackend, Err: err, Challenge: ch, Reason: ReasonBackend}
	}
	reason := ReasonWrongCode
	if ok {
		advanced, err := deps.AdvanceCounter(ctx, ch.UserID, counter)
		if err != nil {
			return MFAResult{Failure: MFAFailureBackend, Err: err, Challenge: ch, Reason: ReasonBackend}
		}
		if advanced {
			deleted, err := deps.Challenges.Delete(ctx, id)
			if err != nil {
				return MFAResult{Failure: MFAFailureBackend, Err: err, Challenge: ch, Reason: ReasonBackend}
			}
			if !deleted {
				return MFAResult{Failure: MFAFailureGone, Challenge: ch, Reason: ReasonChallengeGone}
			}
			return MFAResult{Challenge: ch, Attempts: ch.Attempts}
		}
		reason = ReasonReplay
	}

	res, err := deps.Challenges.RecordFailure(ctx, id, deps.MaxAttempts, now)
	if err != nil {
		return MFAResult{Failure: MFAFailureBackend, Err: err, Challenge: ch, Reason: ReasonBackend}
	}
	out := fromStoreOutcome(res, ch, reason)
	if out.Failure == MFAFailureWrongCode && reason == ReasonReplay {
		out.Failure = MFAFailureReplay
	}
	return out
}

func fromStoreOutcome(res stores.ChallengeResult, ch *stores.MFAChallenge, failReason string) MFAResult {
	out := MFAResult{Challenge: ch, Attempts: res.Attempts}
	switch res.Outcome {
	case stores.ChallengePassed:
		if res.Challenge != nil {
			out.Challenge = res.Challenge
		}
	case stores.ChallengeFailed:
		out.Failure = MFAFailureWrongCode
		out.Reason = failReason
	case stores.ChallengeExhausted:
		out.Failure = MFAFailureExhausted
		out.Reason = ReasonExhausted
	default:
		out.Failure = MFAFailureGone
		out.Reason = ReasonChallengeGone
	}
	return out
}
