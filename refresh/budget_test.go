package refresh

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// cmdCounter counts commands sent through a client. A pipeline counts
// each queued command.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func newCountedStore(t *testing.T) (*Store, *cmdCounter) {
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
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter := &cmdCounter{}
	rdb.AddHook(counter)
	return NewStore(rdb), counter
}

// EVALSHA plus the EVAL fallback on a cold script cache.
const scriptBudget = 2

func TestRotateRedisBudget(t *testing.T) {
	store, counter := newCountedStore(t)
	ctx := context.Background()
	seedFamily(t, store, "f1", "h0")

	counter.commands.Store(0)
	now := baseTime.Add(time.Minute)
	if _, err := store.Rotate(ctx, "h0", nextRecord("h1", now), now); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if n := counter.commands.Load(); n > scriptBudget {
		t.Fatalf("rotation used %d commands, want at most %d", n, scriptBudget)
	}

	// Warm cache: a second rotation is a single EVALSHA.
	counter.commands.Store(0)
	later := now.Add(time.Minute)
	if _, err := store.Rotate(ctx, "h1", nextRecord("h2", later), later); err != nil {
		t.Fatalf("rotate again: %v", err)
	}
	if n := counter.commands.Load(); n != 1 {
		t.Fatalf("warm rotation used %d commands, want 1", n)
	}
}

func TestReuseInvalidationRedisBudget(t *testing.T) {
	store, counter := newCountedStore(t)
	ctx := context.Background()
	seedFamily(t, store, "f1", "h0")

	now := baseTime.Add(time.Minute)
	if _, err := store.Rotate(ctx, "h0", nextRecord("h1", now), now); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	counter.commands.Store(0)
	res, err := store.Rotate(ctx, "h0", nextRecord("h2", now), now)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Outcome != OutcomeReuse || !res.Invalidated {
		t.Fatalf("expected reuse invalidation, got %+v", res)
	}
	if n := counter.commands.Load(); n > scriptBudget {
		t.Fatalf("reuse handling used %d commands, want at most %d", n, scriptBudget)
	}
}
