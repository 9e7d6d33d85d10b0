package rate

import "errors"

var (
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps every Redis failure of the limiter.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
