package rate

import "errors"

var (
	// ErrRateLimited is returned when a window budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps driver errors.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
