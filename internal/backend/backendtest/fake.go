// Package backendtest provides an in-memory Backend for tests.
package backendtest

import (
	"context"
	"sync"

	"github.com/dshills/rundeck/internal/backend"
	"github.com/dshills/rundeck/internal/event"
)

// Call is one recorded backend call.
type Call struct {
	Op         string // "spawn" or "kill"
	ID         string
	Generation uint64
}

// Fake is a scriptable backend. It records every call and lets tests emit
// output and exit events by hand.
type Fake struct {
	mu     sync.Mutex
	live   map[string]uint64
	calls  []Call
	spawns []backend.SpawnRequest
	input  map[string][]byte
	sizes  map[string][2]uint16

	// SpawnErr, when set, is returned by Spawn.
	SpawnErr error

	// EmitExitOnKill makes Kill report an exit with no code, like the PTY
	// backend does.
	EmitExitOnKill bool

	output *event.Feed[backend.OutputEvent]
	exits  *event.Feed[backend.ExitEvent]
}

var _ backend.Backend = (*Fake)(nil)

// New creates a Fake that reports exits on kill.
func New() *Fake {
	return &Fake{
		live:           make(map[string]uint64),
		input:          make(map[string][]byte),
		sizes:          make(map[string][2]uint16),
		EmitExitOnKill: true,
		output:         event.NewFeed[backend.OutputEvent](),
		exits:          event.NewFeed[backend.ExitEvent](),
	}
}

func (f *Fake) Spawn(ctx context.Context, req backend.SpawnRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "spawn", ID: req.ID, Generation: req.Generation})
	f.spawns = append(f.spawns, req)
	if f.SpawnErr != nil {
		return f.SpawnErr
	}
	f.live[req.ID] = req.Generation
	return nil
}

func (f *Fake) Kill(ctx context.Context, id string) error {
	f.mu.Lock()
	gen, ok := f.live[id]
	f.calls = append(f.calls, Call{Op: "kill", ID: id, Generation: gen})
	delete(f.live, id)
	emit := ok && f.EmitExitOnKill
	f.mu.Unlock()

	if !ok {
		return backend.ErrNotFound
	}
	if emit {
		f.exits.Publish(backend.ExitEvent{ID: id, Generation: gen})
	}
	return nil
}

func (f *Fake) Resize(id string, cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return backend.ErrNotFound
	}
	f.sizes[id] = [2]uint16{cols, rows}
	return nil
}

func (f *Fake) Write(id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return backend.ErrNotFound
	}
	f.input[id] = append(f.input[id], data...)
	return nil
}

func (f *Fake) SubscribeOutput(fn func(backend.OutputEvent)) event.Subscription {
	return f.output.Subscribe(fn)
}

func (f *Fake) SubscribeExit(fn func(backend.ExitEvent)) event.Subscription {
	return f.exits.Subscribe(fn)
}

func (f *Fake) Close() error {
	f.output.Close()
	f.exits.Close()
	return nil
}

// EmitOutput publishes an output event for the live generation of id.
func (f *Fake) EmitOutput(id string, data string) {
	f.output.Publish(backend.OutputEvent{ID: id, Generation: f.LiveGeneration(id), Data: []byte(data)})
}

// EmitOutputGen publishes an output event with an explicit generation.
func (f *Fake) EmitOutputGen(id string, gen uint64, data string) {
	f.output.Publish(backend.OutputEvent{ID: id, Generation: gen, Data: []byte(data)})
}

// EmitExit publishes an exit event and forgets the process when gen is
// its live generation.
func (f *Fake) EmitExit(id string, gen uint64, code *int) {
	f.mu.Lock()
	if cur, ok := f.live[id]; ok && cur == gen {
		delete(f.live, id)
	}
	f.mu.Unlock()
	f.exits.Publish(backend.ExitEvent{ID: id, Generation: gen, Code: code})
}

// LiveGeneration returns the generation of the live process for id, or 0.
func (f *Fake) LiveGeneration(id string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

// Calls returns every recorded spawn and kill in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Spawns returns every spawn request in order.
func (f *Fake) Spawns() []backend.SpawnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.SpawnRequest(nil), f.spawns...)
}

// Count returns how many calls of op were recorded.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Input returns everything written to id.
func (f *Fake) Input(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.input[id]...)
}

// Size returns the last size set for id.
func (f *Fake) Size(id string) (cols, rows uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sizes[id]
	return s[0], s[1]
}
