// Package refresh stores token families and their refresh-token records in
// Redis and implements the rotation state machine.
//
// A family is created at login with a generation-0 record. Each rotation
// revokes the presented record and appends generation N+1 to the family's
// ordered log (a sorted set keyed by family id, scored by generation).
// Presenting a revoked record invalidates the whole family. All of this
// runs inside Lua scripts, so at most one record per family is ever live.
//
// Only the SHA-256 of a refresh token reaches the store. Encoding and
// hashing of raw tokens live in the internal package; auditing, sessions
// and token minting are the engine's job.
package refresh
