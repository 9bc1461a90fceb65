package dlq

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore is a process-local Store backed by a ring buffer.
type MemoryStore struct {
	opts *options
	buf  []*Message
	mu   sync.Mutex
	head int
	size int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := newOptions(opts...)
	return &MemoryStore{
		opts: o,
		buf:  make([]*Message, o.capacity),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, m *Message) error {
	if m == nil {
		return ErrNilMessage
	}
	prepare(m, s.opts.now())
	cp := *m
	cp.Payload = bytes.Clone(m.Payload)

	s.mu.Lock()
	capacity := len(s.buf)
	if s.size == capacity {
		// Full: overwrite the oldest slot and advance the head.
		s.buf[s.head] = &cp
		s.head = (s.head + 1) % capacity
	} else {
		s.buf[(s.head+s.size)%capacity] = &cp
		s.size++
	}
	size := s.size
	s.mu.Unlock()

	s.opts.metrics.DLQSize(int64(size))
	return nil
}

func (s *MemoryStore) Peek(_ context.Context, n int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(n), nil
}

func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.size), nil
}

func (s *MemoryStore) Stats(context.Context) (*Stats, error) {
	s.mu.Lock()
	msgs := s.snapshot(s.size)
	s.mu.Unlock()
	return statsOf(msgs, len(s.buf)), nil
}

func (s *MemoryStore) Purge(context.Context) (int64, error) {
	s.mu.Lock()
	removed := s.size
	clear(s.buf)
	s.head, s.size = 0, 0
	s.mu.Unlock()

	s.opts.metrics.DLQSize(0)
	return int64(removed), nil
}

// snapshot copies up to n messages oldest first. Caller holds mu.
func (s *MemoryStore) snapshot(n int) []*Message {
	n = min(max(n, 0), s.size)
	out := make([]*Message, 0, n)
	for i := range n {
		m := *s.buf[(s.head+i)%len(s.buf)]
		m.Payload = bytes.Clone(m.Payload)
		out = append(out, &m)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
