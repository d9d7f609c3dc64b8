// Package limiters holds the per-account login lockout.
//
// [LockoutLimiter] counts failed password attempts per user in Redis and
// sets a lock key for the cooldown once the threshold is reached. Counter
// and lock change in one script; the caller's clock decides whether a lock
// is still in force.
//
// Per-IP throttling is a rate limit and lives in internal/rate.
package limiters
