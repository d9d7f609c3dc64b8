// Package internal contains helpers private to authcore: secure random
// generation, refresh token encoding, and OTP generation.
//
// # Sub-packages
//
//   - audit — async alert dispatch for security events already durably recorded
//   - flows — pure-function orchestrators for credential, rotation, and MFA flows
//   - limiters — account lockout
//   - rate — fixed-window Redis counters
//   - stores — MFA challenges, TOTP replay guard, password history
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
