package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/realtime"
)

// ErrMissing tells the indexer an order no longer exists.
var ErrMissing = errors.New("order missing")

type Store interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
}

// Indexer keeps the search index in step with the order store. Events are
// only hints: every one triggers a fresh read of the order it names, and a
// dropped subscription triggers a full reindex.
type Indexer struct {
	Hub      *realtime.Hub
	Group    realtime.Group
	Load     func(ctx context.Context, id uuid.UUID) (*models.OrderHeader, error)
	Snapshot func(ctx context.Context) ([]models.OrderHeader, error)
	Store    Store
	Log      *slog.Logger
	Timeout  time.Duration
}

func (ix *Indexer) timeout() time.Duration {
	if ix.Timeout > 0 {
		return ix.Timeout
	}
	return 5 * time.Second
}

func (ix *Indexer) Run(ctx context.Context) error {
	l := ix.Log
	if l == nil {
		l = slog.Default()
	}
	l = l.With("component", "search_indexer")

	for {
		sub := ix.Hub.Subscribe(ix.Group)
		if err := ix.reindex(ctx); err != nil {
			l.Error("reindex_failed", "error", err)
		}

		err := ix.consume(ctx, sub, l)
		sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, realtime.ErrHubClosed) {
			return err
		}
		l.Warn("indexer_resubscribing", "error", err)
	}
}

func (ix *Indexer) consume(ctx context.Context, sub *realtime.Subscription, l *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return sub.Err()
			}
			id, ok := realtime.OrderID(ev)
			if !ok {
				continue
			}
			if err := ix.Sync(ctx, id); err != nil {
				l.Warn("index_order_failed", "order_id", id, "error", err)
			}
		}
	}
}

// Sync re-reads one order and writes or removes its document.
func (ix *Indexer) Sync(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout())
	defer cancel()

	order, err := ix.Load(ctx, id)
	if errors.Is(err, ErrMissing) {
		return ix.Store.Delete(ctx, id.String())
	}
	if err != nil {
		return err
	}
	return ix.Store.Upsert(ctx, FromOrder(order))
}

func (ix *Indexer) reindex(ctx context.Context) error {
	if ix.Snapshot == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*ix.timeout())
	defer cancel()

	orders, err := ix.Snapshot(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for i := range orders {
		if err := ix.Store.Upsert(ctx, FromOrder(&orders[i])); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
