package inventory

import (
	"sync"
)

type entry struct {
	ctrl *Controller
	refs int
}

// Registry shares one Controller per item id between concurrent users.
// A controller lives while it has at least one user; the last Release
// closes it after its queued writes are applied.
type Registry struct {
	source Source
	opts   Options

	mu      sync.Mutex
	entries map[int64]*entry
	// closing holds controllers being drained after their last Release.
	closing map[int64]chan struct{}
}

// NewRegistry creates a Registry whose controllers read and write source.
func NewRegistry(source Source, opts Options) *Registry {
	return &Registry{
		source:  source,
		opts:    opts,
		entries: make(map[int64]*entry),
		closing: make(map[int64]chan struct{}),
	}
}

// Acquire returns the controller for id, creating it when needed. Every
// Acquire must be paired with a Release.
func (r *Registry) Acquire(id int64) *Controller {
	for {
		r.mu.Lock()
		if e, ok := r.entries[id]; ok {
			e.refs++
			r.mu.Unlock()
			return e.ctrl
		}

		// Writes of a draining controller land before a new one starts.
		if done, ok := r.closing[id]; ok {
			r.mu.Unlock()
			<-done
			continue
		}

		ctrl := NewController(r.source, id, r.opts)
		r.entries[id] = &entry{ctrl: ctrl, refs: 1}
		r.mu.Unlock()
		return ctrl
	}
}

// Release drops one reference to the controller for id.
func (r *Registry) Release(id int64) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}

	delete(r.entries, id)
	done := make(chan struct{})
	r.closing[id] = done
	r.mu.Unlock()

	e.ctrl.Close()

	r.mu.Lock()
	delete(r.closing, id)
	r.mu.Unlock()
	close(done)
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every controller regardless of outstanding references.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[int64]*entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Close()
		}(e.ctrl)
	}
	wg.Wait()
}
