package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
)

// Postgres rejects NOTIFY payloads of 8000 bytes or more.
const maxNotifyPayload = 7900

var ErrPayloadTooLarge = errors.New("notify payload too large")

// OrderLoader reads the committed state of one order.
type OrderLoader func(ctx context.Context, id uuid.UUID) (*models.OrderHeader, error)

// orderRef stands in for a header event whose order does not fit in one
// notification. Receivers load the order before delivering.
type orderRef struct {
	Type    Kind               `json:"type"`
	Ref     uuid.UUID          `json:"ref"`
	Version int64              `json:"version"`
	From    status.OrderStatus `json:"from,omitempty"`
	Groups  []Group            `json:"groups,omitempty"`
}

// PGRelay uses LISTEN/NOTIFY on the order database as the cross-instance
// bus when no broker is configured.
type PGRelay struct {
	hub      *Hub
	db       *gorm.DB
	listener *pq.Listener
	channel  string
	load     OrderLoader
	log      *slog.Logger
	timeout  time.Duration
}

func NewPGRelay(dsn, channel string, db *gorm.DB, hub *Hub, load OrderLoader, log *slog.Logger) (*PGRelay, error) {
	if load == nil {
		return nil, errors.New("pg relay: order loader is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pg_relay")

	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("pg_listener_event", "event", int(ev), "error", err)
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("pg relay: listen %s: %w", channel, err)
	}
	return &PGRelay{hub: hub, db: db, listener: listener, channel: channel, load: load, log: log}, nil
}

// Publish notifies every instance, this one included. When the
// notification cannot be sent, local subscribers are reset so they resync
// instead of keeping a view that silently missed a change.
func (p *PGRelay) Publish(ctx context.Context, ev Event) error {
	data, err := p.message(ev)
	if err == nil {
		err = p.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", p.channel, string(data)).Error
	}
	if err != nil {
		p.hub.Reset()
		return err
	}
	return nil
}

// message encodes ev in full when it fits, otherwise as an orderRef.
func (p *PGRelay) message(ev Event) ([]byte, error) {
	groups := p.hub.Router().Groups(ev)
	data, err := Encode(ev, groups)
	if err != nil {
		return nil, err
	}
	if len(data) <= maxNotifyPayload {
		return data, nil
	}

	ref := orderRef{Type: ev.Kind(), Groups: groups}
	switch e := ev.(type) {
	case OrderCreated:
		ref.Ref, ref.Version = e.Order.ID, e.Order.Version
	case OrderStatusChanged:
		ref.Ref, ref.Version, ref.From = e.Order.ID, e.Order.Version, e.From
	case OrderUpdated:
		ref.Ref, ref.Version = e.Order.ID, e.Order.Version
	default:
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrPayloadTooLarge, ev.Kind(), len(data))
	}
	if data, err = json.Marshal(ref); err != nil {
		return nil, err
	}
	if len(data) > maxNotifyPayload {
		return nil, fmt.Errorf("%w: %s reference is %d bytes", ErrPayloadTooLarge, ev.Kind(), len(data))
	}
	return data, nil
}

// resolve turns a notification body back into an event and its groups.
func (p *PGRelay) resolve(ctx context.Context, body string) (Event, []Group, error) {
	var ref orderRef
	if err := json.Unmarshal([]byte(body), &ref); err != nil {
		return nil, nil, fmt.Errorf("realtime: unmarshal notification: %w", err)
	}
	if ref.Ref == uuid.Nil {
		return Decode([]byte(body))
	}

	timeout := p.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	order, err := p.load(ctx, ref.Ref)
	if err != nil {
		return nil, nil, fmt.Errorf("realtime: load order %s: %w", ref.Ref, err)
	}
	if order.Version < ref.Version {
		return nil, nil, fmt.Errorf("realtime: order %s at version %d, notified %d", ref.Ref, order.Version, ref.Version)
	}

	switch ref.Type {
	case KindOrderCreated:
		return OrderCreated{Order: order}, ref.Groups, nil
	case KindOrderStatusChanged:
		return OrderStatusChanged{Order: order, From: ref.From}, ref.Groups, nil
	case KindOrderUpdated:
		return OrderUpdated{Order: order}, ref.Groups, nil
	}
	return nil, nil, fmt.Errorf("realtime: unknown reference type %q", ref.Type)
}

// handle delivers one notification. A reference that cannot be resolved
// means subscribers missed a change, so they are reset.
func (p *PGRelay) handle(ctx context.Context, body string) {
	ev, groups, err := p.resolve(ctx, body)
	if err != nil {
		p.log.Warn("pg_decode_failed", "error", err)
		p.hub.Reset()
		return
	}
	p.hub.Deliver(ev, groups)
}

func (p *PGRelay) Run(ctx context.Context) error {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-p.listener.Notify:
			if n == nil {
				// The listener reconnected; anything sent meanwhile is lost.
				p.log.Warn("pg_listener_reconnected")
				p.hub.Reset()
				continue
			}
			p.handle(ctx, n.Extra)
		case <-ping.C:
			go func() {
				if err := p.listener.Ping(); err != nil {
					p.log.Warn("pg_listener_ping_failed", "error", err)
				}
			}()
		}
	}
}

func (p *PGRelay) Close() error {
	return p.listener.Close()
}
