package breaker

import (
	"sort"
	"sync"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
)

// Set holds one breaker per downstream key, created on first use.
// The map lock only guards lookup; each breaker has its own lock.
type Set struct {
	cfg  config.CircuitBreakerConfig
	opts []Option

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewSet creates an empty set. opts apply to every breaker it creates.
func NewSet(cfg config.CircuitBreakerConfig, opts ...Option) *Set {
	return &Set{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (s *Set) Get(key string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[key]; ok {
		return b
	}
	b = New(key, s.cfg, s.opts...)
	s.breakers[key] = b
	return b
}

// Snapshots returns every breaker's state, sorted by name.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
