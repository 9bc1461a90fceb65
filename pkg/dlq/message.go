package dlq

import (
	"encoding/json"
	"time"

	"github.com/dmitrymomot/jobcore/pkg/id"
)

// MaxSize is the default capacity of a Store.
const MaxSize = 10000

// Message is a dead-lettered job.
type Message struct {
	FailedAt      time.Time       `json:"failed_at"`
	FirstFailedAt time.Time       `json:"first_failed_at"`
	ID            string          `json:"id"`
	OriginalQueue string          `json:"original_queue"`
	Type          string          `json:"type"`
	JobID         string          `json:"job_id,omitempty"`
	Error         Error           `json:"error"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
}

// Error describes the failure of the last attempt.
type Error struct {
	Message string `json:"message"`
}

// Stats summarizes the store contents.
type Stats struct {
	OldestFailedAt time.Time        `json:"oldest_failed_at,omitzero"`
	NewestFailedAt time.Time        `json:"newest_failed_at,omitzero"`
	ByQueue        map[string]int64 `json:"by_queue"`
	Total          int64            `json:"total"`
	Capacity       int64            `json:"capacity"`
}

// prepare fills the id and failure times the caller left empty.
func prepare(m *Message, now time.Time) {
	if m.FailedAt.IsZero() {
		m.FailedAt = now
	}
	if m.FirstFailedAt.IsZero() {
		m.FirstFailedAt = m.FailedAt
	}
	if m.ID == "" {
		m.ID = id.NewULIDAt(m.FailedAt)
	}
}

func statsOf(msgs []*Message, capacity int) *Stats {
	s := &Stats{
		ByQueue:  make(map[string]int64),
		Total:    int64(len(msgs)),
		Capacity: int64(capacity),
	}
	for i, m := range msgs {
		s.ByQueue[m.OriginalQueue]++
		if i == 0 || m.FailedAt.Before(s.OldestFailedAt) {
			s.OldestFailedAt = m.FailedAt
		}
		if m.FailedAt.After(s.NewestFailedAt) {
			s.NewestFailedAt = m.FailedAt
		}
	}
	return s
}
