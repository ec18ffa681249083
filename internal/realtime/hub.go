package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrLagged is reported by a subscription the hub dropped because its
// buffer was full. Delivery is at-most-once; the subscriber must refetch.
var ErrLagged = errors.New("subscriber lagged behind and was dropped")

// ErrHubClosed is reported by subscriptions that ended because the hub shut down.
var ErrHubClosed = errors.New("hub closed")

const DefaultBuffer = 64

// Publisher is what state-changing services depend on. Implementations must
// only be called after the change is committed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub is the in-process fan-out point. Each instance owns its registry; there
// is no package-level state.
type Hub struct {
	router Router
	buffer int
	log    *slog.Logger

	mu     sync.RWMutex
	groups map[Group]map[*Subscription]struct{}
	closed bool
}

type HubOption func(*Hub)

func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHub(router Router, opts ...HubOption) *Hub {
	h := &Hub{
		router: router,
		buffer: DefaultBuffer,
		log:    slog.Default(),
		groups: make(map[Group]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Router() Router { return h.router }

// Publish routes ev with the hub's router and delivers it locally.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.Deliver(ev, h.router.Groups(ev))
	return nil
}

// Deliver hands ev to every subscription in any of groups, once per
// subscription. It never blocks: a subscription whose buffer is full is
// dropped and reports ErrLagged.
func (h *Hub) Deliver(ev Event, groups []Group) int {
	var lagged []*Subscription
	delivered := 0

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0
	}
	seen := make(map[*Subscription]struct{})
	for _, g := range groups {
		for s := range h.groups[g] {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			switch s.offer(ev) {
			case offered:
				delivered++
			case offerFull:
				lagged = append(lagged, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range lagged {
		h.log.Warn("subscriber_lagged", "kind", ev.Kind(), "key", ev.Key())
		s.end(ErrLagged)
	}
	return delivered
}

// Subscribe registers a new subscription in the given groups.
func (h *Hub) Subscribe(groups ...Group) *Subscription {
	s := &Subscription{
		hub:    h,
		ch:     make(chan Event, h.buffer),
		groups: make(map[Group]struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closed = true
		s.err = ErrHubClosed
		close(s.ch)
		return s
	}
	for _, g := range groups {
		h.addLocked(s, g)
	}
	return s
}

// Subscribers counts live subscriptions in g.
func (h *Hub) Subscribers(g Group) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[g])
}

// Reset drops every subscription with ErrLagged while keeping the hub open.
// Relays call it when events may have been lost upstream.
func (h *Hub) Reset() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	all := h.drainLocked()
	h.mu.Unlock()

	for _, s := range all {
		s.finish(ErrLagged)
	}
}

// Close ends every subscription with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := h.drainLocked()
	h.mu.Unlock()

	for _, s := range all {
		s.finish(ErrHubClosed)
	}
}

func (h *Hub) drainLocked() []*Subscription {
	var all []*Subscription
	seen := make(map[*Subscription]struct{})
	for _, subs := range h.groups {
		for s := range subs {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				all = append(all, s)
			}
		}
	}
	h.groups = make(map[Group]map[*Subscription]struct{})
	return all
}

func (h *Hub) addLocked(s *Subscription, g Group) {
	subs, ok := h.groups[g]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.groups[g] = subs
	}
	subs[s] = struct{}{}
	s.groups[g] = struct{}{}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for g := range s.groups {
		if subs, ok := h.groups[g]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.groups, g)
			}
		}
	}
}

// Subscription is one viewer's queue. Events arrive in the order the hub
// delivered them.
type Subscription struct {
	hub    *Hub
	ch     chan Event
	groups map[Group]struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Err is nil while the subscription is open or after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Join(g Group) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.hub.closed || s.isClosed() {
		return
	}
	s.hub.addLocked(s, g)
}

func (s *Subscription) Leave(g Group) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if subs, ok := s.hub.groups[g]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.groups, g)
		}
	}
	delete(s.groups, g)
}

func (s *Subscription) Close() {
	s.end(nil)
}

func (s *Subscription) end(err error) {
	s.hub.remove(s)
	s.finish(err)
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type offerResult int

const (
	offered offerResult = iota
	offerFull
	// offerClosed: the subscription ended but has not left the registry yet.
	offerClosed
)

func (s *Subscription) offer(ev Event) offerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return offerClosed
	}
	select {
	case s.ch <- ev:
		return offered
	default:
		return offerFull
	}
}
