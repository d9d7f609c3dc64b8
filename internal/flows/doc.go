// Package flows contains the orchestrators behind Engine login, rotation
// and MFA verification.
//
// Each flow (RunVerifyCredentials, RunRotate, RunVerifyChallenge) takes a
// typed dependency struct and returns a result carrying a FailureKind. The
// root package maps failure kinds to sentinel errors, audit events and
// metrics.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through the dependency fields.
package flows
