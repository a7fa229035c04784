package rate

import "errors"

var (
	// ErrRateLimited is returned by Limiter.Hit when the bucket is over its ceiling.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps failures of the backing store.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidRule is returned by Table.Validate.
	ErrInvalidRule = errors.New("invalid rate limit rule")
)
