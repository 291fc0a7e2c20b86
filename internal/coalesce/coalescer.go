// Package coalesce batches partial state updates into one outbound patch per tick.
package coalesce

import (
	"sync"
	"time"

	"github.com/dokzlo13/wledsync/internal/merge"
	"github.com/dokzlo13/wledsync/internal/wled"
)

// DefaultInterval is the tick used when none is configured.
const DefaultInterval = 50 * time.Millisecond

// FlushFunc receives the merged patch of one tick.
type FlushFunc func(patch wled.StatePatch)

// Coalescer flushes once per interval after the first intent of a tick.
// At most one FlushFunc call runs at a time; intents added while a flush is
// running are carried by the next one.
type Coalescer struct {
	mu       sync.Mutex
	pending  wled.StatePatch
	has      bool
	interval time.Duration
	timer    *time.Timer
	started  bool
	held     bool
	closed   bool

	flushMu sync.Mutex
	onFlush FlushFunc
}

// New creates a Coalescer. A non-positive interval falls back to DefaultInterval.
func New(interval time.Duration, onFlush FlushFunc) *Coalescer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coalescer{
		interval: interval,
		onFlush:  onFlush,
	}
}

// Add merges patch into the pending update and arms the timer if needed.
func (c *Coalescer) Add(patch wled.StatePatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending = merge.Patch(c.pending, patch)
	c.has = true
	c.armLocked()
}

// Requeue puts a patch that failed to send back underneath the intents
// queued since, so newer values keep winning. A running timer is left as is.
func (c *Coalescer) Requeue(patch wled.StatePatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.has {
		c.pending = merge.Patch(patch, c.pending)
	} else {
		c.pending = merge.Patch(wled.StatePatch{}, patch)
	}
	c.has = true
	c.armLocked()
}

// Hold stops ticks. Intents keep accumulating until Release.
func (c *Coalescer) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = true
	c.stopLocked()
}

// Release resumes ticks and schedules one if intents are pending.
func (c *Coalescer) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = false
	if c.has {
		c.armLocked()
	}
}

// Flush sends whatever is pending right now, bypassing the timer.
// It does nothing while the coalescer is held.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	held := c.held
	c.stopLocked()
	c.mu.Unlock()
	if held {
		return
	}
	c.flush()
}

// Cancel drops the pending update and returns it.
func (c *Coalescer) Cancel() (wled.StatePatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return c.takeLocked()
}

// Pending returns a copy of the update that would be sent on the next tick.
func (c *Coalescer) Pending() (wled.StatePatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has {
		return wled.StatePatch{}, false
	}
	return merge.Patch(wled.StatePatch{}, c.pending), true
}

// Close stops the timer and rejects further intents. Pending data is kept
// for Cancel or Pending but never flushed.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopLocked()
}

// flush sends the accumulated patch to the flush callback
func (c *Coalescer) flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	c.started = false
	if c.closed || c.held {
		c.mu.Unlock()
		return
	}
	patch, ok := c.takeLocked()
	c.mu.Unlock()

	if ok {
		c.onFlush(patch)
	}
}

func (c *Coalescer) armLocked() {
	if c.started || c.held || c.closed {
		return
	}
	c.timer = time.AfterFunc(c.interval, c.flush)
	c.started = true
}

func (c *Coalescer) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.started = false
}

func (c *Coalescer) takeLocked() (wled.StatePatch, bool) {
	if !c.has {
		return wled.StatePatch{}, false
	}
	patch := c.pending
	c.pending = wled.StatePatch{}
	c.has = false
	return patch, true
}
