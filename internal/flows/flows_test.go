package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/refresh"
)

var fixedNow = time.Unix(1_700_000_000, 0)

type credentialFake struct {
	users       map[string]CredentialUser
	lockedUntil time.Time
	failures    int
	threshold   int
	resets      int
	verified    []string
}

func (f *credentialFake) deps() CredentialDeps {
	return CredentialDeps{
		Now: func() time.Time { return fixedNow },
		FindUser: func(_ context.Context, email string) (CredentialUser, bool, error) {
			u, ok := f.users[email]
			return u, ok, nil
		},
		LockedUntil: func(context.Context, string, time.Time) (time.Time, error) {
			return f.lockedUntil, nil
		},
		RecordFailure: func(_ context.Context, _ string, now time.Time) (limiters.LockoutState, error) {
			f.failures++
			if f.failures >= f.threshold {
				f.lockedUntil = now.Add(time.Minute)
				return limiters.LockoutState{Failures: f.failures, Locked: true, Triggered: true, Until: f.lockedUntil}, nil
			}
			return limiters.LockoutState{Failures: f.failures}, nil
		},
		ResetFailures: func(context.Context, string) error {
			f.resets++
			f.failures = 0
			return nil
		},
		VerifyPassword: func(pw, hash string) (bool, error) {
			f.verified = append(f.verified, hash)
			return "hash:"+pw == hash, nil
		},
		NeedsUpgrade: func(hash string) (bool, error) { return hash == "hash:legacy-pass", nil },
		HashPassword: func(pw string) (string, error) { return "new:" + pw, nil },
		DummyHash:    "dummy",
	}
}

func TestVerifyCredentialsOutcomes(t *testing.T) {
	f := &credentialFake{
		users: map[string]CredentialUser{
			"a@x": {UserID: "u1", PasswordHash: "hash:right"},
			"d@x": {UserID: "u2", PasswordHash: "hash:right", Disabled: true},
		},
		threshold: 3,
	}
	ctx := context.Background()

	res := RunVerifyCredentials(ctx, "nobody@x", "right", "", f.deps())
	if res.Failure != CredentialFailureInvalid || res.UserID != "" || res.Reason != ReasonUnknownEmail {
		t.Fatalf("unknown email: %+v", res)
	}
	if len(f.verified) != 1 || f.verified[0] != "dummy" {
		t.Fatalf("unknown email must spend a dummy verify, got %v", f.verified)
	}

	res = RunVerifyCredentials(ctx, "d@x", "right", "", f.deps())
	if res.Failure != CredentialFailureInvalid || res.Reason != ReasonAccountDisabled {
		t.Fatalf("disabled: %+v", res)
	}

	res = RunVerifyCredentials(ctx, "a@x", "right", "", f.deps())
	if res.Failure != CredentialFailureNone || res.UserID != "u1" {
		t.Fatalf("valid: %+v", res)
	}
	if f.resets != 1 {
		t.Fatalf("success should reset failures")
	}

	for i := 0; i < 2; i++ {
		res = RunVerifyCredentials(ctx, "a@x", "wrong", "", f.deps())
		if res.Failure != CredentialFailureInvalid || res.Lockout.Triggered {
			t.Fatalf("failure %d: %+v", i, res)
		}
	}
	res = RunVerifyCredentials(ctx, "a@x", "wrong", "", f.deps())
	if res.Failure != CredentialFailureInvalid || !res.Lockout.Triggered || res.Reason != ReasonLocked {
		t.Fatalf("threshold failure should trigger lock: %+v", res)
	}

	before := len(f.verified)
	res = RunVerifyCredentials(ctx, "a@x", "right", "", f.deps())
	if res.Failure != CredentialFailureLocked {
		t.Fatalf("locked account must be rejected even with the right password: %+v", res)
	}
	if len(f.verified) != before {
		t.Fatalf("lock must be checked before hashing")
	}
}

func TestVerifyCredentialsRateLimitAndUpgrade(t *testing.T) {
	f := &credentialFake{users: map[string]CredentialUser{"a@x": {UserID: "u1", PasswordHash: "hash:legacy-pass"}}, threshold: 5}
	deps := f.deps()

	res := RunVerifyCredentials(context.Background(), "a@x", "legacy-pass", "1.2.3.4", deps)
	if res.Failure != CredentialFailureNone || res.UpgradedHash != "new:legacy-pass" {
		t.Fatalf("expected rehash on success: %+v", res)
	}

	deps.AllowLogin = func(context.Context, string) (bool, error) { return false, nil }
	res = RunVerifyCredentials(context.Background(), "a@x", "legacy-pass", "1.2.3.4", deps)
	if res.Failure != CredentialFailureRateLimited || res.Reason != ReasonRateLimited {
		t.Fatalf("rate limit: %+v", res)
	}

	down := errors.New("down")
	deps.AllowLogin = func(context.Context, string) (bool, error) { return false, down }
	res = RunVerifyCredentials(context.Background(), "a@x", "legacy-pass", "1.2.3.4", deps)
	if res.Failure != CredentialFailureBackend || !errors.Is(res.Err, down) {
		t.Fatalf("throttle backend failure must not read as a decision: %+v", res)
	}
}

func TestVerifyCredentialsBackendFailureIsNotADecision(t *testing.T) {
	f := &credentialFake{users: map[string]CredentialUser{"a@x": {UserID: "u1", PasswordHash: "hash:right"}}}
	deps := f.deps()
	down := errors.New("down")
	deps.LockedUntil = func(context.Context, string, time.Time) (time.Time, error) { return time.Time{}, down }

	res := RunVerifyCredentials(context.Background(), "a@x", "right", "", deps)
	if res.Failure != CredentialFailureBackend || !errors.Is(res.Err, down) {
		t.Fatalf("expected backend failure: %+v", res)
	}
}

type rotateStoreFake struct {
	res      refresh.RotateResult
	err      error
	gotHash  string
	gotNext  refresh.Record
	gotCalls int
}

func (f *rotateStoreFake) Rotate(_ context.Context, hash string, next refresh.Record, _ time.Time) (refresh.RotateResult, error) {
	f.gotCalls++
	f.gotHash = hash
	f.gotNext = next
	return f.res, f.err
}

func rotateDeps(store RotateStore) RotateDeps {
	return RotateDeps{
		Now:        func() time.Time { return fixedNow },
		RefreshTTL: time.Hour,
		DecodeRefreshToken: func(s string) ([32]byte, error) {
			var b [32]byte
			if s == "bad" {
				return b, errors.New("bad")
			}
			copy(b[:], s)
			return b, nil
		},
		NewRefreshSecret:   func() ([32]byte, error) { return [32]byte{9}, nil },
		HashRefreshSecret:  func(b [32]byte) string { return "h" + string(b[:1]) },
		EncodeRefreshToken: func(b [32]byte) string { return "tok" },
		Store:              store,
	}
}

func TestRunRotateMapsOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		outcome refresh.Outcome
		want    RotateFailureKind
	}{
		{"rotated", refresh.OutcomeRotated, RotateFailureNone},
		{"reuse", refresh.OutcomeReuse, RotateFailureReuse},
		{"expired", refresh.OutcomeExpired, RotateFailureExpired},
		{"unknown", refresh.OutcomeUnknown, RotateFailureUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &rotateStoreFake{res: refresh.RotateResult{Outcome: tc.outcome, FamilyID: "f", Generation: 3, Invalidated: true}}
			res := RunRotate(context.Background(), "abc", rotateDeps(store))
			if res.Failure != tc.want {
				t.Fatalf("failure = %v, want %v", res.Failure, tc.want)
			}
			if tc.want == RotateFailureNone {
				if res.RefreshToken != "tok" || !res.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
					t.Fatalf("unexpected success payload: %+v", res)
				}
			} else if res.RefreshToken != "" {
				t.Fatalf("failure must not hand out a token")
			}
			if tc.want == RotateFailureReuse && !res.FamilyInvalidated {
				t.Fatalf("reuse should report the invalidation")
			}
			if store.gotHash != "ha" || store.gotNext.Hash != "h\x09" {
				t.Fatalf("store saw hash %q next %q", store.gotHash, store.gotNext.Hash)
			}
		})
	}
}

func TestRunRotateDecodeAndStoreErrors(t *testing.T) {
	store := &rotateStoreFake{}
	res := RunRotate(context.Background(), "bad", rotateDeps(store))
	if res.Failure != RotateFailureDecode || store.gotCalls != 0 {
		t.Fatalf("decode failure should not reach the store: %+v", res)
	}

	store.err = errors.New("down")
	res = RunRotate(context.Background(), "abc", rotateDeps(store))
	if res.Failure != RotateFailureStore {
		t.Fatalf("expected store failure: %+v", res)
	}
}

type challengeFake struct {
	ch       *stores.MFAChallenge
	consume  stores.ChallengeResult
	failures int
	deleted  bool
}

func (f *challengeFake) Get(context.Context, string) (*stores.MFAChallenge, error) {
	if f.ch == nil || f.deleted {
		return nil, stores.ErrChallengeNotFound
	}
	c := *f.ch
	return &c, nil
}

func (f *challengeFake) ConsumeCode(context.Context, string, string, int, time.Time) (stores.ChallengeResult, error) {
	return f.consume, nil
}

func (f *challengeFake) RecordFailure(_ context.Context, _ string, max int, _ time.Time) (stores.ChallengeResult, error) {
	f.failures++
	if f.failures >= max {
		f.deleted = true
		return stores.ChallengeResult{Outcome: stores.ChallengeExhausted, Attempts: f.failures}, nil
	}
	return stores.ChallengeResult{Outcome: stores.ChallengeFailed, Attempts: f.failures}, nil
}

func (f *challengeFake) Delete(context.Context, string) (bool, error) {
	if f.deleted {
		return false, nil
	}
	f.deleted = true
	return true, nil
}

func totpDeps(f *challengeFake, lastCounter *int64) MFADeps {
	return MFADeps{
		Now:         func() time.Time { return fixedNow },
		MaxAttempts: 3,
		Challenges:  f,
		HashOTP:     func(s string) string { return "h:" + s },
		TOTPSecret: func(context.Context, string) ([]byte, bool, error) {
			return []byte("secret"), true, nil
		},
		VerifyTOTP: func(_ []byte, code string, _ time.Time) (bool, int64, error) {
			return code == "123456", 42, nil
		},
		AdvanceCounter: func(_ context.Context, _ string, counter int64) (bool, error) {
			if counter <= *lastCounter {
				return false, nil
			}
			*lastCounter = counter
			return true, nil
		},
	}
}

func TestVerifyChallengeTOTP(t *testing.T) {
	var last int64
	f := &challengeFake{ch: &stores.MFAChallenge{ID: "c", UserID: "u", Method: MethodTOTP, ExpiresAt: fixedNow.Add(time.Minute)}}

	res := RunVerifyChallenge(context.Background(), "c", "000000", totpDeps(f, &last))
	if res.Failure != MFAFailureWrongCode || res.Attempts != 1 {
		t.Fatalf("wrong code: %+v", res)
	}

	res = RunVerifyChallenge(context.Background(), "c", "123456", totpDeps(f, &last))
	if res.Failure != MFAFailureNone {
		t.Fatalf("valid code: %+v", res)
	}

	res = RunVerifyChallenge(context.Background(), "c", "123456", totpDeps(f, &last))
	if res.Failure != MFAFailureGone {
		t.Fatalf("consumed challenge should be gone: %+v", res)
	}
}

func TestVerifyChallengeTOTPReplayAcrossChallenges(t *testing.T) {
	last := int64(42)
	f := &challengeFake{ch: &stores.MFAChallenge{ID: "c2", UserID: "u", Method: MethodTOTP, ExpiresAt: fixedNow.Add(time.Minute)}}

	res := RunVerifyChallenge(context.Background(), "c2", "123456", totpDeps(f, &last))
	if res.Failure != MFAFailureReplay || res.Reason != ReasonReplay {
		t.Fatalf("reused counter should be a replay: %+v", res)
	}
	if f.failures != 1 {
		t.Fatalf("replay should consume an attempt")
	}
}

func TestVerifyChallengeExhaustsAttempts(t *testing.T) {
	var last int64
	f := &challengeFake{ch: &stores.MFAChallenge{ID: "c", UserID: "u", Method: MethodTOTP, ExpiresAt: fixedNow.Add(time.Minute)}}
	deps := totpDeps(f, &last)

	var res MFAResult
	for i := 0; i < deps.MaxAttempts; i++ {
		res = RunVerifyChallenge(context.Background(), "c", "000000", deps)
	}
	if res.Failure != MFAFailureExhausted {
		t.Fatalf("expected exhaustion: %+v", res)
	}
	res = RunVerifyChallenge(context.Background(), "c", "123456", deps)
	if res.Failure != MFAFailureGone {
		t.Fatalf("exhausted challenge must be gone: %+v", res)
	}
}

func TestVerifyChallengeEmailMapsStoreOutcome(t *testing.T) {
	var last int64
	f := &challengeFake{
		ch:      &stores.MFAChallenge{ID: "c", UserID: "u", Method: MethodEmail, ExpiresAt: fixedNow.Add(time.Minute)},
		consume: stores.ChallengeResult{Outcome: stores.ChallengeExpired},
	}
	res := RunVerifyChallenge(context.Background(), "c", "111111", totpDeps(f, &last))
	if res.Failure != MFAFailureGone {
		t.Fatalf("expired email code: %+v", res)
	}

	f.consume = stores.ChallengeResult{Outcome: stores.ChallengePassed, Challenge: &stores.MFAChallenge{ID: "c", UserID: "u", Purpose: "login"}}
	res = RunVerifyChallenge(context.Background(), "c", "111111", totpDeps(f, &last))
	if res.Failure != MFAFailureNone || res.Challenge.Purpose != "login" {
		t.Fatalf("passed email code: %+v", res)
	}
}
