// Package authcore is a session-security engine: password login with
// lockout, TOTP and emailed one-time-code MFA, short-lived JWT access
// tokens, and rotating opaque refresh tokens grouped into families.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
// Every cross-request invariant (single active refresh record per family,
// single-use challenges, the per-user session limit) is enforced by Redis
// scripts, so any number of replicas may share one Redis.
//
// # Refresh token families
//
// A login starts a family at generation 0. [Engine.Refresh] revokes the
// presented record and stores generation N+1 in one step. Presenting a
// revoked record is treated as theft: the family is invalidated, its
// session ends, and REUSE_DETECTED is written to the audit log.
//
// # Audit
//
// Security events are written synchronously through [AuditLog] before the
// operation returns. A failed write fails the operation with
// [ErrInfrastructure] and invalidates anything it minted.
//
// # Errors
//
// Errors are sentinels matched with errors.Is. Backend failures match both
// [ErrInfrastructure] and the store's own sentinel; they never surface as
// a security decision.
package authcore
