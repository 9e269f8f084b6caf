package output

import (
	"github.com/dshills/rundeck/internal/event"
	"github.com/dshills/rundeck/internal/metrics"
)

// Pipeline connects a Registry of coalescers to a Console.
type Pipeline struct {
	registry *Registry
	console  *Console
}

// NewPipeline creates a pipeline with the given flush options and
// scrollback limit.
func NewPipeline(opts Options, scrollback int, m *metrics.Metrics) *Pipeline {
	console := NewConsole(scrollback, m)
	return &Pipeline{
		registry: NewRegistry(opts, func(f Flush) { console.Apply(f) }),
		console:  console,
	}
}

// Write queues process output for id.
func (p *Pipeline) Write(id string, data []byte) {
	p.registry.Write(id, data)
}

// Flush forces pending output for id into the console.
func (p *Pipeline) Flush(id string) {
	p.registry.Flush(id)
}

// Clear drops pending and displayed output for id.
func (p *Pipeline) Clear(id string) {
	epoch := p.registry.Clear(id)
	p.console.Reset(id, epoch)
}

// Snapshot returns the scrollback for id.
func (p *Pipeline) Snapshot(id string) []byte {
	data, _ := p.console.Snapshot(id)
	return data
}

// View returns the scrollback for id as a Frame.
func (p *Pipeline) View(id string) Frame {
	return p.console.Frame(id)
}

// Subscribe registers fn for every flush the console applies.
func (p *Pipeline) Subscribe(fn func(Flush)) event.Subscription {
	return p.console.Subscribe(fn)
}

// Remove disposes the coalescer and scrollback for id.
func (p *Pipeline) Remove(id string) {
	p.registry.Remove(id)
	p.console.Forget(id)
}

// Close disposes all coalescers and releases console subscribers.
func (p *Pipeline) Close() {
	p.registry.Close()
	p.console.Close()
}
