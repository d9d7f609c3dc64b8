// Package jwt signs and verifies the stateless tokens handed to clients:
// access tokens (typ=access) carrying the forwarded identity, and pending
// MFA tokens (typ=mfa). Verification needs only the public key, so
// downstream services never call back into the engine.
package jwt
