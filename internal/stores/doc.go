// Package stores holds small Redis-backed stores used by the engine's
// second-factor and password flows: MFA challenges, the per-user TOTP
// replay counter, and password history.
//
// Single-use and attempt-count rules are enforced by Lua scripts so that
// concurrent verifications of one challenge cannot both succeed. Secrets
// are never stored in clear; callers pass hashes.
package stores
