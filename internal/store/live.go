package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/metrics"
	"github.com/vyrodovalexey/inventory-tracker/internal/model"
)

// Live timing constants.
const (
	retryDelay      = 1 * time.Second
	watchBackoff    = 500 * time.Millisecond
	maxWatchBackoff = 30 * time.Second
)

// Compile-time check: Live implements ItemStore.
var _ ItemStore = (*Live)(nil)

// Live wraps a Store backend and adds live subscriptions. Every write made
// through Live, and every notification relayed by Run, wakes subscribers,
// which then re-read the backend and emit the fresh state.
type Live struct {
	backend Store
	logger  *zap.Logger

	mu      sync.Mutex
	changed chan struct{}
}

// NewLive creates a Live view over backend.
func NewLive(backend Store, logger *zap.Logger) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Live{
		backend: backend,
		logger:  logger,
		changed: make(chan struct{}),
	}
}

// Notify wakes all subscribers.
func (l *Live) Notify() {
	l.mu.Lock()
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func (l *Live) changes() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

// List returns all items from the backend.
func (l *Live) List(ctx context.Context) ([]model.Item, error) {
	return l.backend.List(ctx)
}

// Get retrieves an item from the backend.
func (l *Live) Get(ctx context.Context, id int64) (*model.Item, error) {
	return l.backend.Get(ctx, id)
}

// Create adds an item and notifies subscribers.
func (l *Live) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	created, err := l.backend.Create(ctx, item)
	metrics.ObserveWrite("create", err)
	if err != nil {
		return nil, err
	}
	l.Notify()
	return created, nil
}

// Update replaces an item and notifies subscribers.
func (l *Live) Update(ctx context.Context, id int64, item *model.Item) (*model.Item, error) {
	updated, err := l.backend.Update(ctx, id, item)
	metrics.ObserveWrite("update", err)
	if err != nil {
		return nil, err
	}
	l.Notify()
	return updated, nil
}

// Delete removes an item and notifies subscribers.
func (l *Live) Delete(ctx context.Context, id int64) error {
	err := l.backend.Delete(ctx, id)
	metrics.ObserveWrite("delete", err)
	if err != nil {
		return err
	}
	l.Notify()
	return nil
}

// Ping checks the backend connection when the backend has one.
func (l *Live) Ping(ctx context.Context) error {
	if p, ok := l.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Run relays change notifications from a Notifier backend until ctx is
// done, reconnecting with backoff when the watch fails. For other backends
// it just waits for ctx.
func (l *Live) Run(ctx context.Context) error {
	n, ok := l.backend.(Notifier)
	if !ok {
		<-ctx.Done()
		return nil
	}

	backoff := watchBackoff
	for {
		err := n.Watch(ctx, l.Notify)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("store watch stopped, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		// Changes may have been missed while disconnected.
		l.Notify()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxWatchBackoff)
	}
}

// SubscribeAll emits the full item list now and after every change.
// Consecutive identical lists are emitted once.
func (l *Live) SubscribeAll(ctx context.Context) <-chan []model.Item {
	out := make(chan []model.Item, 1)

	go func() {
		defer close(out)

		var last []model.Item
		emitted := false
		for {
			changed := l.changes()

			items, err := l.backend.List(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("failed to list items for subscriber", zap.Error(err))
				if !l.wait(ctx, changed, retryDelay) {
					return
				}
				continue
			}

			if !emitted || !itemsEqual(last, items) {
				offer(ctx, out, items)
				last = items
				emitted = true
			}

			if !l.wait(ctx, changed, 0) {
				return
			}
		}
	}()

	return out
}

// SubscribeItem emits the item with the given id, or nil while it is
// missing. Consecutive identical values are emitted once.
func (l *Live) SubscribeItem(ctx context.Context, id int64) <-chan *model.Item {
	out := make(chan *model.Item, 1)

	go func() {
		defer close(out)

		var last *model.Item
		emitted := false
		for {
			changed := l.changes()

			item, err := l.getOptional(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("failed to get item for subscriber",
					zap.Int64("item_id", id),
					zap.Error(err),
				)
				if !l.wait(ctx, changed, retryDelay) {
					return
				}
				continue
			}

			if !emitted || !itemPtrEqual(last, item) {
				offer(ctx, out, item)
				last = item
				emitted = true
			}

			if !l.wait(ctx, changed, 0) {
				return
			}
		}
	}()

	return out
}

// getOptional maps ErrNotFound to a nil item.
func (l *Live) getOptional(ctx context.Context, id int64) (*model.Item, error) {
	item, err := l.backend.Get(ctx, id)
	switch {
	case err == nil:
		return item, nil
	case errors.Is(err, ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("subscribe item %d: %w", id, err)
	}
}

// wait blocks until the next change, the optional timeout, or ctx end.
// It returns false when ctx is done.
func (l *Live) wait(ctx context.Context, changed <-chan struct{}, timeout time.Duration) bool {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-changed:
		return true
	case <-timer:
		return true
	}
}

// offer delivers v to a one-slot channel, replacing a value the consumer
// has not picked up yet. Only the producing goroutine may call it.
func offer[T any](ctx context.Context, out chan T, v T) {
	select {
	case out <- v:
		return
	default:
	}

	select {
	case <-out:
	default:
	}

	select {
	case out <- v:
	case <-ctx.Done():
	}
}

func itemsEqual(a, b []model.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func itemPtrEqual(a, b *model.Item) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
