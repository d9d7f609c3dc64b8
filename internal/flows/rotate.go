package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureDecode
	RotateFailureUnknown
	RotateFailureReuse
	RotateFailureExpired
	RotateFailureNextSecret
	RotateFailureStore
)

// RotateResult carries either the new refresh token or failure metadata.
type RotateResult struct {
	Failure    RotateFailureKind
	Err        error
	FamilyID   string
	UserID     string
	SessionID  string
	Generation uint64
	// FamilyInvalidated is set on reuse when this call performed the
	// transition to invalidated.
	FamilyInvalidated bool

	RefreshToken string
	ExpiresAt    time.Time
}

type RotateStore interface {
	Rotate(ctx context.Context, presentedHash string, next refresh.Record, now time.Time) (refresh.RotateResult, error)
}

// RotateDeps captures rotation dependencies.
type RotateDeps struct {
	Now                func() time.Time
	RefreshTTL         time.Duration
	DecodeRefreshToken func(string) ([32]byte, error)
	NewRefreshSecret   func() ([32]byte, error)
	HashRefreshSecret  func([32]byte) string
	EncodeRefreshToken func([32]byte) string
	Store              RotateStore
}

// RunRotate runs rotate(rawRefreshToken). The successor secret is drawn
// before the store call so that the store's single script decides the
// outcome; a successor whose rotation lost is simply never persisted.
func RunRotate(ctx context.Context, raw string, deps RotateDeps) RotateResult {
	presented, err := deps.DecodeRefreshToken(raw)
	if err != nil {
		// Malformed tokens cannot match any record.
		return RotateResult{Failure: RotateFailureDecode, Err: err}
	}

	nextSecret, err := deps.NewRefreshSecret()
	if err != nil {
		return RotateResult{Failure: RotateFailureNextSecret, Err: err}
	}

	now := deps.Now()
	next := refresh.Record{
		Hash:      deps.HashRefreshSecret(nextSecret),
		IssuedAt:  now,
		ExpiresAt: now.Add(deps.RefreshTTL),
	}

	res, err := deps.Store.Rotate(ctx, deps.HashRefreshSecret(presented), next, now)
	if err != nil {
		return RotateResult{Failure: RotateFailureStore, Err: err}
	}

	out := RotateResult{
		FamilyID:   res.FamilyID,
		UserID:     res.UserID,
		SessionID:  res.SessionID,
		Generation: res.Generation,
	}
	switch res.Outcome {
	case refresh.OutcomeRotated:
		out.RefreshToken = deps.EncodeRefreshToken(nextSecret)
		out.ExpiresAt = next.ExpiresAt
	case refresh.OutcomeReuse:
		out.Failure = RotateFailureReuse
		out.FamilyInvalidated = res.Invalidated
	case refresh.OutcomeExpired:
		out.Failure = RotateFailureExpired
	default:
		out.Failure = RotateFailureUnknown
	}
	return out
}
