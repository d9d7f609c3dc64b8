package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

func TestRevokeSessionByAdmin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pair := h.login(t)

	if err := h.engine.RevokeSession(ctx, pair.SessionID, "ticket-1234"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	fam, _ := h.engine.refreshStore.GetFamily(ctx, pair.FamilyID)
	if fam == nil || fam.Status != refresh.StatusInvalidated || fam.Reason != refresh.ReasonAdminRevoked {
		t.Fatalf("family after admin revoke: %+v", fam)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Fatalf("refresh after admin revoke succeeded")
	}
	ev, ok := h.audit.last(ActionSessionRevoked)
	if !ok || ev.Metadata["note"] != "ticket-1234" {
		t.Fatalf("SESSION_REVOKED event: %+v", ev)
	}

	if err := h.engine.RevokeSession(ctx, pair.SessionID, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second revoke: expected ErrSessionNotFound, got %v", err)
	}
	if err := h.engine.RevokeSession(ctx, "missing", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing: expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeOwnSessionChecksOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pair := h.login(t)

	if err := h.engine.RevokeOwnSession(ctx, "u-mallory", pair.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign session: expected ErrSessionNotFound, got %v", err)
	}
	if err := h.engine.RevokeOwnSession(ctx, "u-alice", pair.SessionID); err != nil {
		t.Fatalf("own session: %v", err)
	}
	sessions, _ := h.engine.ListSessions(ctx, "u-alice")
	if len(sessions) != 0 {
		t.Fatalf("session still listed")
	}
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		pairs = append(pairs, h.login(t))
		h.clock.Advance(time.Second)
	}

	n, err := h.engine.LogoutAll(ctx, "u-alice")
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 3 {
		t.Fatalf("ended %d sessions, want 3", n)
	}
	for _, p := range pairs {
		if _, err := h.engine.Refresh(ctx, p.RefreshToken); err == nil {
			t.Fatalf("family %s still refreshes", p.FamilyID)
		}
	}
}

func TestChangePasswordRevokesOtherFamilies(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	old1 := h.login(t)
	h.clock.Advance(time.Second)
	old2 := h.login(t)
	h.clock.Advance(time.Second)
	current := h.login(t)

	const next = "Brand-New-Passw0rd"
	if err := h.engine.ChangePassword(ctx, "u-alice", testPassword, next, current.SessionID); err != nil {
		t.Fatalf("change password: %v", err)
	}

	for _, p := range []*TokenPair{old1, old2} {
		if _, err := h.engine.Refresh(ctx, p.RefreshToken); err == nil {
			t.Fatalf("prior family %s still refreshes", p.FamilyID)
		}
		fam, _ := h.engine.refreshStore.GetFamily(ctx, p.FamilyID)
		if fam == nil || fam.Reason != refresh.ReasonPasswordChange && fam.Reason != refresh.ReasonReuseDetected {
			t.Fatalf("family after password change: %+v", fam)
		}
	}
	if _, err := h.engine.Refresh(ctx, current.RefreshToken); err != nil {
		t.Fatalf("kept session: %v", err)
	}

	if _, err := h.engine.Login(ctx, testEmail, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := h.engine.Login(ctx, testEmail, next); err != nil {
		t.Fatalf("new password: %v", err)
	}
	if h.audit.count(ActionPasswordChange) != 1 {
		t.Fatalf("expected one PASSWORD_CHANGE event")
	}
}

func TestChangePasswordWithoutKeepRevokesAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pair := h.login(t)

	if err := h.engine.ChangePassword(ctx, "u-alice", testPassword, "Brand-New-Passw0rd", ""); err != nil {
		t.Fatalf("change password: %v", err)
	}
	fam, _ := h.engine.refreshStore.GetFamily(ctx, pair.FamilyID)
	if fam == nil || fam.Status != refresh.StatusInvalidated || fam.Reason != refresh.ReasonPasswordChange {
		t.Fatalf("family: %+v", fam)
	}
}

func TestChangePasswordRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.engine.ChangePassword(ctx, "u-alice", "wrong", "Brand-New-Passw0rd", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong old: expected ErrInvalidCredentials, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, "u-alice", testPassword, "short", ""); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("weak: expected ErrPasswordPolicy, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, "u-alice", testPassword, testPassword, ""); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same: expected ErrPasswordReuse, got %v", err)
	}

	const second = "Second-Passw0rd-x"
	if err := h.engine.ChangePassword(ctx, "u-alice", testPassword, second, ""); err != nil {
		t.Fatalf("change: %v", err)
	}
	if err := h.engine.ChangePassword(ctx, "u-alice", second, testPassword, ""); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("history: expected ErrPasswordReuse, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, "u-nobody", "a", "b", ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: expected ErrUserNotFound, got %v", err)
	}
}

func TestResetPasswordClearsLockout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Lockout.Threshold = 2 })
	ctx := context.Background()
	pair := h.login(t)

	_, _ = h.engine.Login(ctx, testEmail, "x")
	_, _ = h.engine.Login(ctx, testEmail, "x")

	const next = "Recovered-Passw0rd"
	if err := h.engine.ResetPassword(ctx, "u-alice", next); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Fatalf("pre-reset family still refreshes")
	}
	if _, err := h.engine.Login(ctx, testEmail, next); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
	if h.audit.count(ActionPasswordReset) != 1 {
		t.Fatalf("expected one PASSWORD_RESET event")
	}
}

func TestSweepRemovesOnlyExpiredRecords(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.JWT.RefreshTTL = time.Hour })
	ctx := context.Background()

	stale := h.login(t)
	h.clock.Advance(50 * time.Minute)
	fresh := h.login(t)
	h.clock.Advance(20 * time.Minute)

	stats, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Deleted != 1 {
		t.Fatalf("deleted %d, want 1", stats.Deleted)
	}
	if _, err := h.engine.Refresh(ctx, stale.RefreshToken); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("swept token: expected ErrUnknownToken, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, fresh.RefreshToken); err != nil {
		t.Fatalf("fresh token: %v", err)
	}

	again, err := h.engine.Sweep(ctx)
	if err != nil || again.Deleted != 0 {
		t.Fatalf("second sweep: %+v %v", again, err)
	}
}

func TestSweeperStops(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Cleanup.Interval = 10 * time.Millisecond })
	s := h.engine.NewSweeper()
	if s == nil {
		t.Fatalf("expected sweeper")
	}
	go s.Run(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
