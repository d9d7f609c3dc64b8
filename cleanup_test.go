package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweepReapsOnlyExpiredRecords(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := h.login(t)
	rotated, err := h.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	h.clock.Advance(h.engine.config.JWT.RefreshTTL + time.Hour)
	fresh := h.login(t)

	stats, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// The rotated-away record and its unused successor; the new login's
	// record is still valid.
	if stats.Deleted != 2 || stats.ExpiredUnused != 1 || stats.FamiliesDropped != 1 {
		t.Fatalf("unexpected sweep stats: %+v", stats)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricCleanupDeleted]; got != 2 {
		t.Fatalf("cleanup counter: %d", got)
	}

	if _, err := h.engine.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("reaped token: expected ErrUnknownToken, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, fresh.RefreshToken); err != nil {
		t.Fatalf("live token touched by sweep: %v", err)
	}

	again, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Deleted != 0 {
		t.Fatalf("sweep not idempotent: %+v", again)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	off := newHarness(t, func(c *Config) { c.Cleanup.Interval = 0 })
	if off.engine.NewSweeper() != nil {
		t.Fatal("sweeper built with zero interval")
	}

	h := newHarness(t, func(c *Config) { c.Cleanup.Interval = 5 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := h.engine.NewSweeper()
	go sw.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		sw.Stop()
		sw.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestSecurityReportReflectsConfig(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.JWT.KeyID = "k-2026"
		c.Session.MaxPerUser = 3
		c.PasswordHistory.Enabled = false
	})

	r := h.engine.SecurityReport()
	if r.SigningAlgorithm != "ed25519" || r.KeyID != "k-2026" {
		t.Fatalf("signing: %+v", r)
	}
	if r.MaxSessionsPerUser != 3 || r.SessionLimitPolicy != string(LimitEvictOldest) {
		t.Fatalf("sessions: %+v", r)
	}
	if r.PasswordHistory != 0 || !r.LockoutEnabled || r.LockoutThreshold != 5 {
		t.Fatalf("policy: %+v", r)
	}
	if r.Argon2.Memory != 8*1024 {
		t.Fatalf("argon2: %+v", r.Argon2)
	}

	var nilEngine *Engine
	if nilEngine.SecurityReport() != (SecurityReport{}) {
		t.Fatal("nil engine report not empty")
	}
}

func TestPingReportsRedisOutage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.engine.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	h.mr.Close()
	if _, err := h.engine.Ping(ctx); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}
