// Package events keeps subscriber registries keyed by event type and
// dispatches inbound events to them.
package events

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
)

type subscription struct {
	id      uuid.UUID
	handler Handler
}

// Router is safe for concurrent use. Handler lists are copy-on-write, so a
// dispatch in progress always sees a stable list even if handlers are added
// or removed meanwhile.
type Router struct {
	valid   map[string]bool // read-only after NewRouter
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs map[string][]subscription

	dispatched     atomic.Int64
	callbackErrors atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics counts dispatched events and callback errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter creates a router accepting the given event types plus the
// reserved connection types.
func NewRouter(types []string, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		valid:  make(map[string]bool, len(types)+2),
		logger: logger.With("component", "events"),
		subs:   make(map[string][]subscription),
	}
	for _, t := range types {
		r.valid[t] = true
	}
	r.valid[TypeConnectionLost] = true
	r.valid[TypeConnectionState] = true

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Valid reports whether eventType may be subscribed to.
func (r *Router) Valid(eventType string) bool {
	return r.valid[eventType]
}

// Types returns the accepted event types, sorted.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.valid))
	for t := range r.valid {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers handler for eventType.
func (r *Router) Subscribe(eventType string, handler Handler) (Handle, error) {
	if !r.valid[eventType] {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}
	if handler == nil {
		return Handle{}, fmt.Errorf("%w: nil handler for %q", ErrSubscription, eventType)
	}

	h := Handle{ID: uuid.New(), EventType: eventType}

	r.mu.Lock()
	old := r.subs[eventType]
	next := make([]subscription, len(old), len(old)+1)
	copy(next, old)
	r.subs[eventType] = append(next, subscription{id: h.ID, handler: handler})
	r.mu.Unlock()

	r.logger.Debug("subscribed", "event", eventType, "handler_id", h.ID)
	return h, nil
}

// Unsubscribe removes a subscription. It reports whether the handle was
// registered; removing twice is harmless.
func (r *Router) Unsubscribe(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.subs[h.EventType]
	for i, s := range old {
		if s.id != h.ID {
			continue
		}
		next := make([]subscription, 0, len(old)-1)
		next = append(next, old[:i]...)
		next = append(next, old[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, h.EventType)
		} else {
			r.subs[h.EventType] = next
		}
		return true
	}
	return false
}

// Dispatch invokes every handler currently registered for ev.Type, in
// registration order, on the caller's goroutine.
func (r *Router) Dispatch(ev Event) DispatchResult {
	r.mu.RLock()
	subs := r.subs[ev.Type]
	r.mu.RUnlock()

	r.dispatched.Add(1)
	r.metrics.IncStreamEvent(ev.Type)

	result := DispatchResult{Invoked: len(subs)}
	for _, s := range subs {
		if cbErr := r.invoke(s, ev); cbErr != nil {
			r.callbackErrors.Add(1)
			r.metrics.IncCallbackError(ev.Type)
			r.logger.Warn("subscriber handler failed",
				"event", ev.Type,
				"handler_id", s.id,
				"error", cbErr,
			)
			result.Errors = append(result.Errors, cbErr)
		}
	}
	return result
}

func (r *Router) invoke(s subscription, ev Event) (cbErr *CallbackError) {
	defer func() {
		if p := recover(); p != nil {
			cbErr = &CallbackError{
				EventType: ev.Type,
				HandlerID: s.id,
				Err:       fmt.Errorf("panic: %v", p),
				Panic:     p,
			}
		}
	}()

	if err := s.handler(ev); err != nil {
		return &CallbackError{EventType: ev.Type, HandlerID: s.id, Err: err}
	}
	return nil
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	counts := make(map[string]int, len(r.subs))
	for t, subs := range r.subs {
		counts[t] = len(subs)
	}
	r.mu.RUnlock()

	return RouterStats{
		Subscriptions:  counts,
		Dispatched:     r.dispatched.Load(),
		CallbackErrors: r.callbackErrors.Load(),
	}
}
