// Package rate provides Redis-backed fixed-window counters.
//
// INCR plus PEXPIRE on the first hit. Key prefixes:
//   - ali: login attempts per client IP
//   - ami: MFA challenge issuance per user
//
// Account lockout is not a rate limit and lives in internal/limiters.
package rate
