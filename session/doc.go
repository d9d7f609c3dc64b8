// Package session is the Redis-backed session registry.
//
// Each session is a compact binary blob under as:{id}; active sessions of a
// user are indexed in the sorted set asu:{user}, scored by creation time, so
// the oldest one is evicted first when a login exceeds the per-user limit.
// Registration, eviction and ending run as Lua scripts that patch the blob
// header in place.
//
// The registry does not know about token families beyond storing the family
// id; invalidating the family of an ended session is the caller's job.
package session
