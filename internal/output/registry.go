package output

import "sync"

// Registry owns one Coalescer per process id. Coalescers are created on
// first use and live until Remove or Close.
type Registry struct {
	opts    Options
	onFlush func(Flush)

	mu         sync.Mutex
	coalescers map[string]*Coalescer
	closed     bool
}

// NewRegistry creates a registry whose coalescers deliver to onFlush.
func NewRegistry(opts Options, onFlush func(Flush)) *Registry {
	return &Registry{
		opts:       opts.withDefaults(),
		onFlush:    onFlush,
		coalescers: make(map[string]*Coalescer),
	}
}

// Write queues output for id.
func (r *Registry) Write(id string, data []byte) {
	if c := r.get(id); c != nil {
		c.Write(data)
	}
}

// Flush forces pending output for id out.
func (r *Registry) Flush(id string) {
	if c := r.get(id); c != nil {
		c.Flush()
	}
}

// Clear drops pending output for id and returns its new epoch.
func (r *Registry) Clear(id string) uint64 {
	if c := r.get(id); c != nil {
		return c.Clear()
	}
	return 0
}

// Epoch returns the current epoch for id.
func (r *Registry) Epoch(id string) uint64 {
	r.mu.Lock()
	c := r.coalescers[id]
	r.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.Epoch()
}

// Remove disposes and forgets the coalescer for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c := r.coalescers[id]
	delete(r.coalescers, id)
	r.mu.Unlock()
	if c != nil {
		c.Dispose()
	}
}

// Len returns the number of live coalescers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coalescers)
}

// Close disposes every coalescer. Later writes are ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := r.coalescers
	r.coalescers = make(map[string]*Coalescer)
	r.mu.Unlock()

	for _, c := range all {
		c.Dispose()
	}
}

func (r *Registry) get(id string) *Coalescer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	c, ok := r.coalescers[id]
	if !ok {
		c = NewCoalescer(id, r.opts, r.onFlush)
		r.coalescers[id] = c
	}
	return c
}
