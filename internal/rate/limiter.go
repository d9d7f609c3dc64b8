package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a fixed-window budget. A zero Limit disables the rule.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) enabled() bool { return r.Limit > 0 && r.Window > 0 }

// Config holds rate limiter tuning parameters.
type Config struct {
	// LoginIP bounds login attempts per client IP, successful or not.
	LoginIP Rule
	// MFAIssue bounds challenge issuance per user.
	MFAIssue Rule
}

// Limiter enforces fixed-window budgets with Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// AllowLogin counts one login attempt from ip and returns ErrRateLimited
// once the window budget is spent. Empty ip is never limited.
func (l *Limiter) AllowLogin(ctx context.Context, ip string) error {
	if l == nil || ip == "" {
		return nil
	}
	return l.allow(ctx, loginIPKey(ip), l.config.LoginIP)
}

// AllowMFAIssue counts one challenge issued for userID.
func (l *Limiter) AllowMFAIssue(ctx context.Context, userID string) error {
	if l == nil || userID == "" {
		return nil
	}
	return l.allow(ctx, mfaIssueKey(userID), l.config.MFAIssue)
}

// Attempts returns the current counter for key; missing keys read as zero.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) allow(ctx context.Context, key string, rule Rule) error {
	if !rule.enabled() {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, key, rule.Window)
	if err != nil {
		return err
	}
	if count > int64(rule.Limit) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.PExpire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
