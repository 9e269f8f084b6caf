package output

import (
	"sync"

	"github.com/dshills/rundeck/internal/event"
	"github.com/dshills/rundeck/internal/metrics"
)

// DefaultScrollback is the default scrollback size in bytes.
const DefaultScrollback = 1 << 20

// Console keeps bounded scrollback per process and fans applied flushes
// out to subscribers.
type Console struct {
	limit   int
	metrics *metrics.Metrics

	mu      sync.Mutex
	screens map[string]*screen

	updates *event.Feed[Flush]
}

type screen struct {
	epoch uint64
	seq   uint64
	data  []byte
}

// Frame is a point-in-time copy of one scrollback. Seq is the sequence
// number of the last flush it contains.
type Frame struct {
	Data  []byte
	Epoch uint64
	Seq   uint64
}

// NewConsole creates a console keeping at most limit bytes per process.
func NewConsole(limit int, m *metrics.Metrics) *Console {
	if limit <= 0 {
		limit = DefaultScrollback
	}
	return &Console{
		limit:   limit,
		metrics: m,
		screens: make(map[string]*screen),
		updates: event.NewFeed[Flush](),
	}
}

// Apply appends f to the scrollback of f.ID. Flushes from an older epoch
// are dropped and Apply reports false. A newer epoch resets the
// scrollback before appending.
func (c *Console) Apply(f Flush) bool {
	c.mu.Lock()
	s := c.screen(f.ID)
	if f.Epoch < s.epoch {
		c.mu.Unlock()
		c.metrics.FlushDropped()
		return false
	}
	if f.Epoch > s.epoch {
		s.epoch = f.Epoch
		s.data = nil
	}
	s.data = appendBounded(s.data, f.Data, c.limit)
	s.seq++
	f.Seq = s.seq
	c.mu.Unlock()

	c.metrics.Flushed(len(f.Data))
	c.updates.Publish(f)
	return true
}

// Reset empties the scrollback of id and moves it to epoch. Subscribers
// receive an empty flush carrying the new epoch. A screen already at epoch
// holds only output written after the clear and is left alone.
func (c *Console) Reset(id string, epoch uint64) {
	c.mu.Lock()
	s := c.screen(id)
	if epoch <= s.epoch {
		c.mu.Unlock()
		return
	}
	s.epoch = epoch
	s.data = nil
	s.seq++
	seq := s.seq
	c.mu.Unlock()

	c.updates.Publish(Flush{ID: id, Epoch: epoch, Seq: seq})
}

// Snapshot returns a copy of the scrollback of id and its epoch.
func (c *Console) Snapshot(id string) ([]byte, uint64) {
	fr := c.Frame(id)
	return fr.Data, fr.Epoch
}

// Frame returns a copy of the scrollback of id. Subscribers can skip
// flushes with a Seq at or below the frame's, which are already in it.
func (c *Console) Frame(id string) Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.screens[id]
	if !ok {
		return Frame{}
	}
	return Frame{Data: append([]byte(nil), s.data...), Epoch: s.epoch, Seq: s.seq}
}

// Forget drops the scrollback of id.
func (c *Console) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.screens, id)
}

// Subscribe registers fn for every applied flush and reset.
func (c *Console) Subscribe(fn func(Flush)) event.Subscription {
	return c.updates.Subscribe(fn)
}

// Close releases all subscribers.
func (c *Console) Close() {
	c.updates.Close()
}

func (c *Console) screen(id string) *screen {
	s, ok := c.screens[id]
	if !ok {
		s = &screen{}
		c.screens[id] = s
	}
	return s
}

// appendBounded appends data to buf and keeps only the last limit bytes.
func appendBounded(buf, data []byte, limit int) []byte {
	if len(data) >= limit {
		return append(buf[:0], data[len(data)-limit:]...)
	}
	if over := len(buf) + len(data) - limit; over > 0 {
		n := copy(buf, buf[over:])
		buf = buf[:n]
	}
	return append(buf, data...)
}
