// Package output batches process output into bounded, ordered flushes and
// keeps per-process scrollback.
//
// A Coalescer accepts arbitrarily small, frequent writes and hands them on
// as concatenated units, either on a fixed cadence or as soon as a chunk
// threshold is reached. Every flush carries the epoch it was produced in;
// Clear bumps the epoch so consumers can drop flushes that were already in
// flight when the output was cleared.
package output

import (
	"sync"
	"time"
)

// Defaults for Options.
const (
	DefaultInterval  = 16 * time.Millisecond
	DefaultMaxChunks = 100
)

// Options configures a Coalescer.
type Options struct {
	// Interval is the flush cadence while data is pending.
	Interval time.Duration
	// MaxChunks flushes immediately once this many writes are pending.
	MaxChunks int
}

// DefaultOptions returns the default flush cadence and threshold.
func DefaultOptions() Options {
	return Options{Interval: DefaultInterval, MaxChunks: DefaultMaxChunks}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxChunks <= 0 {
		o.MaxChunks = DefaultMaxChunks
	}
	return o
}

// Flush is one coalesced unit of output.
type Flush struct {
	ID     string
	Epoch  uint64
	Data   []byte
	Chunks int
	// Seq is assigned by the Console when the flush is applied.
	Seq uint64
}

// Coalescer batches output for a single process.
//
// Flushes are delivered one at a time in write order. The flush callback
// must not call back into the same Coalescer.
type Coalescer struct {
	id      string
	opts    Options
	onFlush func(Flush)

	mu       sync.Mutex
	buf      []byte
	chunks   int
	epoch    uint64
	seq      uint64 // invalidates armed timers
	timer    *time.Timer
	armed    bool
	disposed bool

	// deliverMu is acquired before mu is released, which keeps delivery
	// in the order flushes were taken.
	deliverMu sync.Mutex
}

// NewCoalescer creates a coalescer for id that hands flushes to onFlush.
func NewCoalescer(id string, opts Options, onFlush func(Flush)) *Coalescer {
	return &Coalescer{
		id:      id,
		opts:    opts.withDefaults(),
		onFlush: onFlush,
	}
}

// ID returns the process id the coalescer serves.
func (c *Coalescer) ID() string {
	return c.id
}

// Write queues a chunk. The chunk is copied.
func (c *Coalescer) Write(data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.buf = append(c.buf, data...)
	c.chunks++

	if c.chunks >= c.opts.MaxChunks {
		c.deliver(c.take())
		return
	}

	if !c.armed {
		c.armed = true
		c.seq++
		seq := c.seq
		c.timer = time.AfterFunc(c.opts.Interval, func() {
			c.fire(seq)
		})
	}
	c.mu.Unlock()
}

// Flush delivers any pending data immediately. When it returns, every
// flush taken before the call has been delivered.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.disposed || c.chunks == 0 {
		c.deliverMu.Lock()
		c.mu.Unlock()
		c.deliverMu.Unlock()
		return
	}
	c.deliver(c.take())
}

// Clear drops pending data without delivering it and starts a new epoch,
// which it returns.
func (c *Coalescer) Clear() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	c.epoch++
	return c.epoch
}

// Epoch returns the current epoch.
func (c *Coalescer) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Pending returns the number of queued chunks.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks
}

// Dispose stops the coalescer and drops pending data. Later writes are
// ignored. Dispose is idempotent.
func (c *Coalescer) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.drop()
}

func (c *Coalescer) fire(seq uint64) {
	c.mu.Lock()
	if c.disposed || seq != c.seq || c.chunks == 0 {
		c.mu.Unlock()
		return
	}
	c.deliver(c.take())
}

// take extracts pending data and disarms the timer. Caller holds mu.
func (c *Coalescer) take() Flush {
	c.disarm()
	f := Flush{ID: c.id, Epoch: c.epoch, Data: c.buf, Chunks: c.chunks}
	c.buf = nil
	c.chunks = 0
	return f
}

// drop discards pending data and disarms the timer. Caller holds mu.
func (c *Coalescer) drop() {
	c.disarm()
	c.buf = nil
	c.chunks = 0
}

func (c *Coalescer) disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.armed = false
	c.seq++
}

// deliver hands f to the callback. Caller holds mu; deliver releases it.
func (c *Coalescer) deliver(f Flush) {
	c.deliverMu.Lock()
	c.mu.Unlock()
	defer c.deliverMu.Unlock()
	if c.onFlush != nil {
		c.onFlush(f)
	}
}
