package job

import (
	"context"
	"maps"
	"slices"
	"sync"
)

type binding struct {
	handler HandlerFunc
	def     Definition
}

// registry stores handler bindings by job type. Each scheduler owns one.
type registry struct {
	bindings map[string]binding
	mu       sync.RWMutex
}

func newRegistry() *registry {
	return &registry{bindings: make(map[string]binding)}
}

func (r *registry) register(def Definition, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[def.Name] = binding{def: def, handler: h}
}

func (r *registry) get(name string) (binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// queues returns the distinct queues of all bindings.
func (r *registry) queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, b := range r.bindings {
		set[b.def.Queue] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.bindings))
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.bindings)
}

// token is the cancellation handle of one execution.
type token struct {
	cancel context.CancelCauseFunc
}

// tokenSet holds the live token of every running execution, keyed by
// "queue:id". Once closed it refuses new tokens. Accepted tokens are counted
// in track, if set, before closeAll can observe them.
type tokenSet struct {
	live   map[string]*token
	track  *sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func newTokenSet(track *sync.WaitGroup) *tokenSet {
	return &tokenSet{live: make(map[string]*token), track: track}
}

// put stores t under key, replacing (not cancelling) any existing token.
func (s *tokenSet) put(key string, t *token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.track != nil {
		s.track.Add(1)
	}
	s.live[key] = t
	return true
}

// remove deletes key if it still maps to t.
func (s *tokenSet) remove(key string, t *token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[key] == t {
		delete(s.live, key)
	}
}

func (s *tokenSet) cancel(key string, cause error) bool {
	s.mu.Lock()
	t, ok := s.live[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel(cause)
	return true
}

// closeAll refuses new tokens and cancels every live one.
func (s *tokenSet) closeAll(cause error) int {
	s.mu.Lock()
	s.closed = true
	live := slices.Collect(maps.Values(s.live))
	s.mu.Unlock()

	for _, t := range live {
		t.cancel(cause)
	}
	return len(live)
}

func (s *tokenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *tokenSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.live)
}
