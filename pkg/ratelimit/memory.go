package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	defaultMaxKeys         = 10000
	defaultCleanupInterval = time.Minute
)

// window is the per-key sliding window kept by MemoryStore.
type window struct {
	key    string
	events []time.Time // ascending
	span   time.Duration
}

// purge drops events older than now-span.
func (w *window) purge(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// MemoryStore is a process-local Store. Windows live in an LRU map bounded
// by a key count; the least recently used key is evicted when a new key
// arrives at capacity.
type MemoryStore struct {
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	done     chan struct{}
	now      func() time.Time
	maxKeys  int
	interval time.Duration
	mu       sync.Mutex
	closed   bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxKeys bounds the number of tracked keys. Default 10000.
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// WithCleanupInterval sets how often expired windows are swept.
// Zero or negative disables the janitor.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.interval = d
	}
}

// WithMemoryClock overrides the time source used by the janitor.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a MemoryStore and starts its janitor.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		done:     make(chan struct{}),
		now:      time.Now,
		maxKeys:  defaultMaxKeys,
		interval: defaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval > 0 {
		go s.janitor()
	}
	return s
}

func (s *MemoryStore) Admit(_ context.Context, key string, now time.Time, limit Limit) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.touch(key)
	w.span = limit.Window
	w.purge(now)

	d := Decision{Count: len(w.events)}
	if d.Count < limit.MaxRequests {
		w.events = append(w.events, now)
		d.Count++
		d.Allowed = true
	}
	if len(w.events) > 0 {
		d.Oldest = w.events[0]
	}
	return d, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close stops the janitor. The store stays usable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// touch returns the window for key, creating it and evicting the least
// recently used key when needed. Caller holds mu.
func (s *MemoryStore) touch(key string) *window {
	if el, ok := s.items[key]; ok {
		s.order.MoveToFront(el)
		return el.Value.(*window)
	}
	if len(s.items) >= s.maxKeys {
		if oldest := s.order.Back(); oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*window).key)
		}
	}
	w := &window{key: key}
	s.items[key] = s.order.PushFront(w)
	return w
}

// sweep removes windows with no events inside their span.
func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		w := el.Value.(*window)
		w.purge(now)
		if len(w.events) == 0 {
			s.order.Remove(el)
			delete(s.items, w.key)
		}
		el = prev
	}
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

var _ Store = (*MemoryStore)(nil)
