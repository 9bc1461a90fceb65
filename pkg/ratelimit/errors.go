package ratelimit

import "errors"

var (
	// ErrKeyRequired is returned by Check for an empty key.
	ErrKeyRequired = errors.New("ratelimit: key is required")

	// ErrInvalidLimit is returned by Check when MaxRequests or Window is not positive.
	ErrInvalidLimit = errors.New("ratelimit: limit must have positive max requests and window")

	// ErrClientRequired is returned when a Redis store is built without a client.
	ErrClientRequired = errors.New("ratelimit: redis client is required")
)
