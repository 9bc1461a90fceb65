package dlq

import "errors"

var (
	// ErrNilMessage is returned when Enqueue is called with a nil message.
	ErrNilMessage = errors.New("dlq: message is nil")

	// ErrClientRequired is returned when a Redis store is built without a client.
	ErrClientRequired = errors.New("dlq: redis client is required")
)
