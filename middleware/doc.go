// Package middleware adapts access-token verification to net/http.
//
// [Guard] verifies the bearer token with an authcore.Engine and stores the
// identity in the request context. [ForwardIdentity] then replaces any
// client-supplied X-Auth-* headers with the verified claims, so services
// behind the gateway read identity from one trusted place and never parse
// tokens themselves.
//
// Verification is local: no Redis round trip. A revoked session keeps its
// access token valid until the token expires.
package middleware
