package notify

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/gradebook/core"
)

// DefaultWindow is the quiet period after which a burst of events is dispatched.
const DefaultWindow = 5 * time.Second

// DispatchFunc runs the fan-out of one event.
type DispatchFunc func(ctx context.Context, e Event) error

// pending is the scheduled dispatch of one key.
type pending struct {
	timer *time.Timer
	gen   uint64
	first Kind // kind of the first event of the burst
	last  Kind
}

// Debouncer delays dispatching until events for a key have been quiet for a window.
// Keys are independent; a dispatch that has started runs to completion and later
// events for the same key start a new cycle.
//
// A burst whose last event reverts its first one (add then remove, or remove then add)
// leaves visibility unchanged and is dropped.
type Debouncer struct {
	window   time.Duration
	dispatch DispatchFunc
	logger   core.Logger

	mu      sync.Mutex
	pending map[Key]*pending
	stopped bool
	running sync.WaitGroup
}

func NewDebouncer(window time.Duration, dispatch DispatchFunc, logger core.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		window:   window,
		dispatch: dispatch,
		logger:   logger,
		pending:  make(map[Key]*pending),
	}
}

// Schedule (re)starts the quiet window of the event's key.
func (d *Debouncer) Schedule(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	p, ok := d.pending[e.Key]
	if ok {
		p.timer.Stop()
	} else {
		p = &pending{first: e.Kind}
		d.pending[e.Key] = p
	}
	p.gen++
	p.last = e.Kind
	gen := p.gen
	p.timer = time.AfterFunc(d.window, func() { d.fire(e.Key, gen) })
}

// fire runs when a timer elapses. A stale generation means the timer was
// replaced or flushed after it had already started.
func (d *Debouncer) fire(key Key, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.running.Add(1)
	d.mu.Unlock()

	d.run(key, p)
}

// FlushNow dispatches the pending event of `key` immediately and waits for the dispatch.
// It returns false when nothing was pending.
func (d *Debouncer) FlushNow(key Key) bool {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || d.stopped {
		d.mu.Unlock()
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	d.running.Add(1)
	d.mu.Unlock()

	d.run(key, p)
	return true
}

// FlushAll dispatches every pending event and waits for all dispatches to finish.
func (d *Debouncer) FlushAll() int {
	d.mu.Lock()
	keys := make([]Key, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	d.mu.Unlock()

	var flushed int
	for _, key := range keys {
		if d.FlushNow(key) {
			flushed++
		}
	}
	return flushed
}

func (d *Debouncer) Pending(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// CancelBatch drops every pending event of a batch without dispatching it.
func (d *Debouncer) CancelBatch(batchID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var cancelled int
	for key, p := range d.pending {
		if key.BatchID == batchID {
			p.timer.Stop()
			delete(d.pending, key)
			cancelled++
		}
	}
	return cancelled
}

// Stop cancels every pending event and waits for running dispatches to complete.
// The Debouncer ignores events once stopped.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	d.running.Wait()
}

func (d *Debouncer) run(key Key, p *pending) {
	defer d.running.Done()

	if p.first != p.last {
		d.logger.Debug("visibility change reverted within the debounce window, not dispatching",
			map[string]interface{}{"batch_id": key.BatchID, "assessment": key.Assessment})
		return
	}

	e := Event{Key: key, Kind: p.last}
	if err := d.dispatch(context.Background(), e); err != nil {
		d.logger.Error("notification dispatch failed", err,
			map[string]interface{}{"batch_id": key.BatchID, "assessment": key.Assessment, "kind": e.Kind})
	}
}
