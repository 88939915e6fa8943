// Package search turns a rapidly changing query into a live, filtered item list.
package search

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/metrics"
	"github.com/vyrodovalexey/inventory-tracker/internal/model"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

// Pipeline defaults.
const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultGrace    = 5 * time.Second
)

// Options configures a Pipeline. Zero values select the defaults.
type Options struct {
	Debounce time.Duration
	Grace    time.Duration
	Logger   *zap.Logger
}

// State is the part of a Pipeline that survives a restart.
type State struct {
	Query string `json:"query" yaml:"query"`
}

// Pipeline holds the current query and the latest item list and derives
// the search results from both.
//
// SetQuery is debounced: only the last query of a burst is applied, once
// the input has been quiet for the debounce window. Applying a query
// restarts the store subscription. Results are recomputed on every store
// emission. The store is subscribed only while Results has subscribers;
// the subscription is dropped after the grace period with none attached.
type Pipeline struct {
	feed     store.Feed
	debounce time.Duration
	grace    time.Duration
	logger   *zap.Logger

	mu            sync.Mutex
	closed        bool
	query         string
	applied       string
	queryGen      uint64
	debounceTimer *time.Timer

	upstreamCancel context.CancelFunc
	upstreamGen    uint64
	graceGen       uint64
	graceTimer     *time.Timer

	// items is the last store emission, nil before the first.
	items       []model.Item
	results     []model.Item
	subscribers map[chan []model.Item]struct{}
}

// NewPipeline creates a Pipeline reading from feed.
func NewPipeline(feed store.Feed, opts Options) *Pipeline {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Pipeline{
		feed:        feed,
		debounce:    opts.Debounce,
		grace:       opts.Grace,
		logger:      opts.Logger,
		subscribers: make(map[chan []model.Item]struct{}),
	}
}

// SetQuery records the raw query and schedules it to be applied after the
// debounce window. It never blocks.
func (p *Pipeline) SetQuery(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.query = text
	p.queryGen++
	gen := p.queryGen

	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	p.debounceTimer = time.AfterFunc(p.debounce, func() {
		p.applyQuery(gen)
	})
}

// Query returns the latest raw query.
func (p *Pipeline) Query() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query
}

// Snapshot returns the state to carry across a restart.
func (p *Pipeline) Snapshot() State {
	return State{Query: p.Query()}
}

// Restore applies a saved state immediately, without waiting for the
// debounce window.
func (p *Pipeline) Restore(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.query = s.Query
	p.queryGen++
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
		p.debounceTimer = nil
	}
	p.applyLocked()
}

// Results subscribes to the search results. The first value is the current
// result list, empty until the store has emitted. The channel keeps only
// the latest value and closes when ctx is done or the Pipeline is closed.
func (p *Pipeline) Results(ctx context.Context) <-chan []model.Item {
	ch := make(chan []model.Item, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch
	}

	p.subscribers[ch] = struct{}{}
	metrics.SearchSubscribers.Inc()

	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
		p.graceGen++
	}
	if p.upstreamCancel == nil {
		p.startUpstreamLocked()
	}

	current := p.results
	if current == nil {
		current = []model.Item{}
	}
	ch <- current
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.unsubscribe(ch)
	}()

	return ch
}

// Close stops all timers and the store subscription and closes every
// Results channel.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	if p.graceTimer != nil {
		p.graceTimer.Stop()
	}
	p.stopUpstreamLocked()

	for ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, ch)
		metrics.SearchSubscribers.Dec()
	}
}

func (p *Pipeline) unsubscribe(ch chan []model.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subscribers[ch]; !ok {
		return
	}
	delete(p.subscribers, ch)
	close(ch)
	metrics.SearchSubscribers.Dec()

	if len(p.subscribers) > 0 || p.closed {
		return
	}

	p.graceGen++
	gen := p.graceGen
	p.graceTimer = time.AfterFunc(p.grace, func() {
		p.stopIfIdle(gen)
	})
}

func (p *Pipeline) stopIfIdle(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.graceGen || len(p.subscribers) > 0 {
		return
	}
	p.graceTimer = nil
	p.stopUpstreamLocked()
	p.logger.Debug("search idle, store subscription released")
}

func (p *Pipeline) applyQuery(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || gen != p.queryGen {
		return
	}
	p.debounceTimer = nil
	p.applyLocked()
}

func (p *Pipeline) applyLocked() {
	if p.query == p.applied {
		return
	}
	p.applied = p.query
	metrics.SearchQueriesTotal.Inc()
	p.logger.Debug("search query applied", zap.String("query", p.applied))

	if p.upstreamCancel != nil {
		p.cancelUpstreamLocked()
		if p.items != nil {
			p.results = Filter(p.items, p.applied)
		}
		p.startUpstreamLocked()
	}
}

func (p *Pipeline) startUpstreamLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.upstreamCancel = cancel
	p.upstreamGen++
	gen := p.upstreamGen

	src := p.feed.SubscribeAll(ctx)
	go func() {
		for items := range src {
			p.onItems(gen, items)
		}
	}()
}

// stopUpstreamLocked drops the store subscription and the results derived
// from it.
func (p *Pipeline) stopUpstreamLocked() {
	if p.upstreamCancel == nil {
		return
	}
	p.cancelUpstreamLocked()
	p.items = nil
	p.results = nil
}

// cancelUpstreamLocked drops the store subscription but keeps the last
// emission, so subscribers attaching before the restarted subscription
// emits still see the catalog.
func (p *Pipeline) cancelUpstreamLocked() {
	p.upstreamCancel()
	p.upstreamCancel = nil
	p.upstreamGen++
}

func (p *Pipeline) onItems(gen uint64, items []model.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.upstreamGen {
		return
	}

	p.items = items
	p.results = Filter(items, p.applied)
	metrics.SearchRecomputationsTotal.Inc()

	for ch := range p.subscribers {
		replace(ch, p.results)
	}
}

// replace puts v into a one-slot channel, dropping a value not yet read.
// Callers hold p.mu, so no other sender races it.
func replace(ch chan []model.Item, v []model.Item) {
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
