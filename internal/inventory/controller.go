// Package inventory applies stock mutations to a single item.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/metrics"
	"github.com/vyrodovalexey/inventory-tracker/internal/model"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

// Controller errors.
var (
	ErrNotLoaded = errors.New("item not loaded")
	ErrClosed    = errors.New("controller closed")
	ErrQueueFull = errors.New("write queue full")
)

// Operation names used in logs and metrics.
const (
	OpSell     = "sell"
	OpOrder    = "order"
	OpPurchase = "purchase"
	OpDelete   = "delete"
)

// Defaults for Options.
const (
	DefaultErrorBuffer  = 16
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 10 * time.Second
)

// Source is the part of the item store a Controller needs.
type Source interface {
	SubscribeItem(ctx context.Context, id int64) <-chan *model.Item
	Update(ctx context.Context, id int64, item *model.Item) (*model.Item, error)
	Delete(ctx context.Context, id int64) error
}

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	Logger       *zap.Logger
	ErrorBuffer  int
	QueueSize    int
	WriteTimeout time.Duration
}

type write struct {
	op   string
	item model.Item
	// done is set for deletes, which the caller waits on.
	done chan error
}

// Controller projects one item's live state and issues writes derived from
// the last snapshot it observed.
//
// Writes are queued and applied by a single goroutine in the order they were
// issued. Each write is computed when it is issued, so two writes issued
// before the first lands both start from the same quantity and the later
// one wins. Nothing is written before the first snapshot arrives.
type Controller struct {
	id           int64
	source       Source
	logger       *zap.Logger
	writeTimeout time.Duration

	cancel  context.CancelFunc
	loaded  chan struct{}
	writes  chan write
	stopped chan struct{}

	mu          sync.Mutex
	closed      bool
	current     *model.Item
	missing     bool
	watchers    map[chan model.ItemDetails]struct{}
	failures    map[chan error]struct{}
	errorBuffer int
}

// NewController starts a controller bound to id. It subscribes to the item
// right away and keeps the subscription until Close.
func NewController(source Source, id int64, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ErrorBuffer <= 0 {
		opts.ErrorBuffer = DefaultErrorBuffer
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:           id,
		source:       source,
		logger:       opts.Logger.With(zap.Int64("item_id", id)),
		writeTimeout: opts.WriteTimeout,
		cancel:       cancel,
		loaded:       make(chan struct{}),
		writes:       make(chan write, opts.QueueSize),
		stopped:      make(chan struct{}),
		watchers:     make(map[chan model.ItemDetails]struct{}),
		failures:     make(map[chan error]struct{}),
		errorBuffer:  opts.ErrorBuffer,
	}

	go c.observe(ctx)
	go c.writer()

	return c
}

// ID returns the bound item id.
func (c *Controller) ID() int64 {
	return c.id
}

// Snapshot waits for the first store emission and returns the latest
// snapshot. It returns store.ErrNotFound while the item does not exist.
func (c *Controller) Snapshot(ctx context.Context) (model.Item, error) {
	select {
	case <-c.loaded:
	case <-ctx.Done():
		return model.Item{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return model.Item{}, ErrClosed
	}
	if c.missing || c.current == nil {
		return model.Item{}, store.ErrNotFound
	}
	return *c.current, nil
}

// Details subscribes to the item details. The current snapshot, if any, is
// delivered first. Missing items produce no value, so the last known
// details persist. The channel keeps only the latest value and closes when
// ctx is done or the controller is closed.
func (c *Controller) Details(ctx context.Context) <-chan model.ItemDetails {
	ch := make(chan model.ItemDetails, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.watchers[ch] = struct{}{}
	if c.current != nil {
		ch <- model.NewItemDetails(*c.current)
	}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.stopped:
		}
		c.mu.Lock()
		if _, ok := c.watchers[ch]; ok {
			delete(c.watchers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}()

	return ch
}

// Failures subscribes to write failures from Sell, Order and Purchase.
// Every subscriber receives every failure published after it subscribed.
// The channel closes when ctx is done or the controller has stopped.
func (c *Controller) Failures(ctx context.Context) <-chan error {
	ch := make(chan error, c.errorBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.failures[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.stopped:
		}
		c.mu.Lock()
		if _, ok := c.failures[ch]; ok {
			delete(c.failures, ch)
			close(ch)
		}
		c.mu.Unlock()
	}()

	return ch
}

// Sell takes one unit out of stock. It does nothing when the item is out
// of stock.
func (c *Controller) Sell() {
	c.mutate(OpSell, func(q int) (int, bool) {
		return q - 1, q > 0
	})
}

// Order subtracts quantity once the item has any stock. The result may be
// negative when quantity exceeds the stock.
func (c *Controller) Order(quantity int) {
	c.mutate(OpOrder, func(q int) (int, bool) {
		return q - quantity, q > 0
	})
}

// Purchase subtracts quantity only when enough stock is available.
func (c *Controller) Purchase(quantity int) {
	c.mutate(OpPurchase, func(q int) (int, bool) {
		return q - quantity, q >= quantity
	})
}

// Delete removes the snapshot item and waits until the store has done so.
// Writes issued earlier are applied first.
func (c *Controller) Delete(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	w := write{op: OpDelete, item: *c.current, done: make(chan error, 1)}
	err := c.enqueueLocked(w)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the subscription, applies the writes still queued and
// releases all channels. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.stopped
		return
	}
	c.closed = true
	close(c.writes)
	c.mu.Unlock()

	c.cancel()
	<-c.stopped
}

func (c *Controller) mutate(op string, next func(quantity int) (int, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		metrics.MutationSkippedTotal.WithLabelValues(op).Inc()
		c.logger.Debug("mutation before first snapshot ignored", zap.String("op", op))
		return
	}

	quantity, ok := next(c.current.Quantity)
	if !ok {
		metrics.MutationSkippedTotal.WithLabelValues(op).Inc()
		c.logger.Debug("mutation skipped",
			zap.String("op", op),
			zap.Int("quantity", c.current.Quantity),
		)
		return
	}

	err := c.enqueueLocked(write{op: op, item: c.current.WithQuantity(quantity)})
	switch {
	case err == nil:
	case errors.Is(err, ErrClosed):
		c.logger.Debug("mutation after close ignored", zap.String("op", op))
	default:
		c.publishLocked(fmt.Errorf("%s item %d: %w", op, c.id, err))
	}
}

func (c *Controller) enqueueLocked(w write) error {
	if c.closed {
		return ErrClosed
	}
	select {
	case c.writes <- w:
		return nil
	default:
		return ErrQueueFull
	}
}

// observe keeps the cached snapshot in step with the store.
func (c *Controller) observe(ctx context.Context) {
	var once sync.Once
	markLoaded := func() { once.Do(func() { close(c.loaded) }) }

	for item := range c.source.SubscribeItem(ctx, c.id) {
		c.mu.Lock()
		if item == nil {
			c.missing = true
		} else {
			snapshot := *item
			c.current = &snapshot
			c.missing = false

			details := model.NewItemDetails(snapshot)
			for ch := range c.watchers {
				replace(ch, details)
			}
		}
		c.mu.Unlock()
		markLoaded()
	}
	markLoaded()
}

// writer applies queued writes until the queue is closed.
func (c *Controller) writer() {
	defer func() {
		c.mu.Lock()
		for ch := range c.watchers {
			delete(c.watchers, ch)
			close(ch)
		}
		for ch := range c.failures {
			delete(c.failures, ch)
			close(ch)
		}
		c.mu.Unlock()
		close(c.stopped)
	}()

	for w := range c.writes {
		err := c.apply(w)
		if w.done != nil {
			w.done <- err
			continue
		}
		if err != nil {
			c.logger.Error("item write failed", zap.String("op", w.op), zap.Error(err))
			c.mu.Lock()
			c.publishLocked(fmt.Errorf("%s item %d: %w", w.op, c.id, err))
			c.mu.Unlock()
		}
	}
}

func (c *Controller) apply(w write) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	if w.op == OpDelete {
		return c.source.Delete(ctx, w.item.ID)
	}

	item := w.item
	_, err := c.source.Update(ctx, item.ID, &item)
	return err
}

// publishLocked hands err to every Failures subscriber without blocking.
// A subscriber whose buffer is full misses the error, which is logged.
func (c *Controller) publishLocked(err error) {
	for ch := range c.failures {
		select {
		case ch <- err:
		default:
			c.logger.Warn("error buffer full, dropping error", zap.Error(err))
		}
	}
}

func replace(ch chan model.ItemDetails, v model.ItemDetails) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// ParseQuantity turns user input into a quantity. Input that is not a
// positive integer yields 1. Only decimal digits count as an integer, so
// JSON numbers written as 3.0 or 1e1 also yield 1.
func ParseQuantity(text string) int {
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
