package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/restaurant/internal/models"
)

// Cache is a viewer-side store of orders and promotion states keyed by id.
// Apply must be called from a single goroutine in receipt order; reads are
// safe from any goroutine.
type Cache struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*models.OrderHeader
	promos map[string]PromotionState
}

func NewCache() *Cache {
	return &Cache{
		orders: make(map[uuid.UUID]*models.OrderHeader),
		promos: make(map[string]PromotionState),
	}
}

// Reset replaces every cached order with an authoritative snapshot.
func (c *Cache) Reset(orders []models.OrderHeader) {
	next := make(map[uuid.UUID]*models.OrderHeader, len(orders))
	for i := range orders {
		next[orders[i].ID] = orders[i].Clone()
	}
	c.mu.Lock()
	c.orders = next
	c.mu.Unlock()
}

func (c *Cache) Put(o *models.OrderHeader) {
	c.mu.Lock()
	c.orders[o.ID] = o.Clone()
	c.mu.Unlock()
}

func (c *Cache) Remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.orders, id)
	c.mu.Unlock()
}

// Apply patches the single entity ev concerns. It returns the id of an order
// that could not be patched and must be refetched, or uuid.Nil.
func (c *Cache) Apply(ev Event) uuid.UUID {
	switch e := ev.(type) {
	case PromotionQuotaReleased:
		c.applyPromo(e.Code, ev)
		return uuid.Nil
	case PromotionQuotaExhausted:
		c.applyPromo(e.Code, ev)
		return uuid.Nil
	}

	id, ok := OrderID(ev)
	if !ok {
		return uuid.Nil
	}

	c.mu.RLock()
	cached := c.orders[id]
	c.mu.RUnlock()

	next, ok := ReduceOrder(cached, ev)
	if !ok {
		return id
	}
	if next != cached {
		c.mu.Lock()
		c.orders[id] = next
		c.mu.Unlock()
	}
	return uuid.Nil
}

func (c *Cache) applyPromo(code string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promos[code] = ReducePromotion(c.promos[code], ev)
}

func (c *Cache) Order(id uuid.UUID) (*models.OrderHeader, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns copies sorted newest first.
func (c *Cache) Orders() []*models.OrderHeader {
	c.mu.RLock()
	out := make([]*models.OrderHeader, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}

func (c *Cache) Promotion(code string) (PromotionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.promos[code]
	return p, ok
}

// Stream yields events from one connection lifetime.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Connector opens a new Stream. It is called again after every disconnect.
type Connector func(ctx context.Context) (Stream, error)

// HubConnector subscribes directly to an in-process hub.
func HubConnector(h *Hub, groups ...Group) Connector {
	return func(ctx context.Context) (Stream, error) {
		return &hubStream{sub: h.Subscribe(groups...)}, nil
	}
}

type hubStream struct {
	sub *Subscription
}

func (s *hubStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.sub.Events():
		if !ok {
			if err := s.sub.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return ev, nil
	}
}

func (s *hubStream) Close() error {
	s.sub.Close()
	return nil
}

// Follower keeps a Cache in sync with a stream of events. Because delivery
// is at-most-once, every (re)connect starts with a full snapshot, and an
// event that cannot be patched triggers a refetch of that one order.
type Follower struct {
	Connect  Connector
	Snapshot func(ctx context.Context) ([]models.OrderHeader, error)
	Refetch  func(ctx context.Context, id uuid.UUID) (*models.OrderHeader, error)
	Cache    *Cache
	Log      *slog.Logger
	Backoff  time.Duration

	// OnSynced runs after each snapshot is loaded.
	OnSynced func()
}

func (f *Follower) Run(ctx context.Context) error {
	l := f.Log
	if l == nil {
		l = slog.Default()
	}
	backoff := f.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Warn("follower_disconnected", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (f *Follower) session(ctx context.Context) error {
	stream, err := f.Connect(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	snapshot, err := f.Snapshot(ctx)
	if err != nil {
		return err
	}
	f.Cache.Reset(snapshot)
	if f.OnSynced != nil {
		f.OnSynced()
	}

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		id := f.Cache.Apply(ev)
		if id == uuid.Nil || f.Refetch == nil {
			continue
		}
		order, err := f.Refetch(ctx, id)
		switch {
		case err == nil:
			f.Cache.Put(order)
		case errors.Is(err, ErrGone):
			f.Cache.Remove(id)
		default:
			return err
		}
	}
}

// ErrGone tells a Follower that a refetched order no longer exists for this
// viewer.
var ErrGone = errors.New("order gone")
