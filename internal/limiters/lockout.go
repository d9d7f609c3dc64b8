package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the account lockout limiter.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	// Window is how long a failure keeps counting. Every new failure
	// restarts it, so Threshold failures with no gap longer than Window
	// trigger a lock.
	Window   time.Duration
	Cooldown time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutState is the outcome of recording a failure.
type LockoutState struct {
	Failures int
	// Locked is true when the account is locked after this call.
	Locked bool
	// Triggered is true only for the failure that set the lock.
	Triggered bool
	Until     time.Time
}

const recordFailureScript = `
local counter_key = KEYS[1]
local lock_key = KEYS[2]
local now = tonumber(ARGV[1])

local locked_until = tonumber(redis.call("GET", lock_key) or "0")
if locked_until > now then
  return {1, locked_until, 0}
end

local n = redis.call("INCR", counter_key)
redis.call("PEXPIRE", counter_key, ARGV[2])
if n >= tonumber(ARGV[3]) then
  redis.call("SET", lock_key, ARGV[4], "PX", ARGV[5])
  redis.call("DEL", counter_key)
  return {2, tonumber(ARGV[4]), n}
end
return {0, 0, n}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// LockoutLimiter counts failed logins per user and locks the account for a
// cooldown once the threshold is reached. Counter and lock are updated by
// one script, so concurrent failures can neither double count nor skip the
// lock.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func counterKey(userID string) string { return "alf:" + userID }
func lockKey(userID string) string    { return "all:" + userID }

// LockedUntil returns the end of the current lock, or the zero time when
// the account is not locked at now.
func (l *LockoutLimiter) LockedUntil(ctx context.Context, userID string, now time.Time) (time.Time, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return time.Time{}, nil
	}

	ms, err := l.redis.Get(ctx, lockKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	until := time.UnixMilli(ms)
	if !until.After(now) {
		return time.Time{}, nil
	}
	return until, nil
}

// RecordFailure counts one failed attempt at now.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, userID string, now time.Time) (LockoutState, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return LockoutState{}, nil
	}

	until := now.Add(l.config.Cooldown)
	res, err := recordFailureLua.Run(ctx, l.redis,
		[]string{counterKey(userID), lockKey(userID)},
		now.UnixMilli(),
		l.config.Window.Milliseconds(),
		l.config.Threshold,
		until.UnixMilli(),
		l.config.Cooldown.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 3 {
		return LockoutState{}, fmt.Errorf("%w: unexpected reply", ErrLockoutUnavailable)
	}

	state := LockoutState{Failures: int(res[2])}
	switch res[0] {
	case 1:
		state.Locked = true
		state.Until = time.UnixMilli(res[1])
	case 2:
		state.Locked = true
		state.Triggered = true
		state.Until = time.UnixMilli(res[1])
	}
	return state, nil
}

// Reset clears the failure counter after a successful login. An active
// lock is left in place.
func (l *LockoutLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil || !l.config.Enabled || userID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, counterKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Unlock clears both the counter and any active lock.
func (l *LockoutLimiter) Unlock(ctx context.Context, userID string) error {
	if l == nil || userID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, counterKey(userID), lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// GetFailureCount returns the current failure count for a user.
func (l *LockoutLimiter) GetFailureCount(ctx context.Context, userID string) (int, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, counterKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
