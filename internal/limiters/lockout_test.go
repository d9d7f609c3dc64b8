package limiters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLockoutTest(t *testing.T, cfg LockoutConfig) (*LockoutLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewLockoutLimiter(rdb, cfg), mr
}

var lockCfg = LockoutConfig{Enabled: true, Threshold: 5, Window: 15 * time.Minute, Cooldown: 15 * time.Minute}

func TestLockoutTriggersAtThreshold(t *testing.T) {
	l, _ := newLockoutTest(t, lockCfg)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	for i := 1; i <= 4; i++ {
		st, err := l.RecordFailure(ctx, "u1", now)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if st.Locked || st.Failures != i {
			t.Fatalf("failure %d: unexpected state %+v", i, st)
		}
	}

	st, err := l.RecordFailure(ctx, "u1", now)
	if err != nil {
		t.Fatalf("record 5: %v", err)
	}
	if !st.Locked || !st.Triggered || !st.Until.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("expected lock triggered, got %+v", st)
	}

	until, err := l.LockedUntil(ctx, "u1", now.Add(time.Minute))
	if err != nil || until.IsZero() {
		t.Fatalf("expected locked: until=%v err=%v", until, err)
	}

	st, err = l.RecordFailure(ctx, "u1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("record while locked: %v", err)
	}
	if !st.Locked || st.Triggered {
		t.Fatalf("failure while locked must not re-trigger: %+v", st)
	}

	until, _ = l.LockedUntil(ctx, "u1", now.Add(16*time.Minute))
	if !until.IsZero() {
		t.Fatalf("lock must lapse after cooldown, got %v", until)
	}
}

func TestLockoutResetClearsCounter(t *testing.T) {
	l, _ := newLockoutTest(t, lockCfg)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 4; i++ {
		if _, err := l.RecordFailure(ctx, "u1", now); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := l.GetFailureCount(ctx, "u1"); n != 0 {
		t.Fatalf("expected 0 failures, got %d", n)
	}
	st, _ := l.RecordFailure(ctx, "u1", now)
	if st.Locked {
		t.Fatal("counter must restart after reset")
	}
}

func TestLockoutWindowExpires(t *testing.T) {
	l, mr := newLockoutTest(t, lockCfg)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 4; i++ {
		if _, err := l.RecordFailure(ctx, "u1", now); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	mr.FastForward(16 * time.Minute)

	st, err := l.RecordFailure(ctx, "u1", now.Add(16*time.Minute))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if st.Failures != 1 || st.Locked {
		t.Fatalf("expected fresh window, got %+v", st)
	}
}

func TestLockoutConcurrentFailuresLockOnce(t *testing.T) {
	l, _ := newLockoutTest(t, lockCfg)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		triggered int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := l.RecordFailure(ctx, "u1", now)
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if st.Triggered {
				mu.Lock()
				triggered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if triggered != 1 {
		t.Fatalf("expected exactly one triggering failure, got %d", triggered)
	}
}

func TestLockoutDisabledIsNoop(t *testing.T) {
	l, _ := newLockoutTest(t, LockoutConfig{})
	st, err := l.RecordFailure(context.Background(), "u1", time.Now())
	if err != nil || st.Locked || st.Failures != 0 {
		t.Fatalf("disabled limiter must be a no-op: st=%+v err=%v", st, err)
	}
}
