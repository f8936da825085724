package rate

import "errors"

var (
	// ErrRateLimited reports that the counter for a key exceeded its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable reports a backend failure, not a policy decision.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
