package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// HandlerFunc executes one job. ctx is cancelled when the execution times out,
// is cancelled, or the scheduler stops; handlers must return promptly once it
// is done. The returned value is passed to the completion hook.
type HandlerFunc func(ctx context.Context, payload json.RawMessage, h *Handle) (any, error)

// Handle describes a submitted job. Attempt is 0 on the handle returned by
// Schedule and 1-based inside handlers.
type Handle struct {
	CreatedAt   time.Time       `json:"created_at"`
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
}

// Typed adapts a handler taking a decoded payload. Payloads that do not decode
// into P fail permanently.
func Typed[P any](fn func(ctx context.Context, payload P, h *Handle) (any, error)) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage, h *Handle) (any, error) {
		var payload P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, Permanent(errors.Join(ErrInvalidPayload, err))
			}
		}
		return fn(ctx, payload, h)
	}
}

// CompletionHook receives the result of every successful execution.
type CompletionHook func(ctx context.Context, h *Handle, result any)
