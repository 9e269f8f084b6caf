// Package bridge relays backend events to the supervisor and the output
// pipeline.
//
// A Bridge subscribes once to the backend's output and exit streams. Output
// for an id goes to that id's coalescer; exits go to the supervisor. The
// returned Handle releases both subscriptions.
package bridge

import (
	"errors"
	"sync"

	"github.com/dshills/rundeck/internal/backend"
	"github.com/dshills/rundeck/internal/event"
	"github.com/dshills/rundeck/internal/logging"
	"github.com/dshills/rundeck/internal/metrics"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("bridge already started")

// Source produces backend events.
type Source interface {
	SubscribeOutput(fn func(backend.OutputEvent)) event.Subscription
	SubscribeExit(fn func(backend.ExitEvent)) event.Subscription
}

// OutputSink receives process output.
type OutputSink interface {
	Write(id string, data []byte)
}

// ExitHandler receives process exits.
type ExitHandler interface {
	HandleExit(ev backend.ExitEvent)
}

// GenerationSource reports the live generation for an id. When set, output
// from other generations is dropped.
type GenerationSource interface {
	LiveGeneration(id string) (uint64, bool)
}

// Bridge connects a Source to an OutputSink and an ExitHandler.
type Bridge struct {
	source  Source
	sink    OutputSink
	exits   ExitHandler
	gens    GenerationSource
	log     *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	started bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithGenerations drops output whose generation is not live.
func WithGenerations(g GenerationSource) Option {
	return func(b *Bridge) {
		b.gens = g
	}
}

// WithMetrics counts dropped output.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// New creates a bridge. It does nothing until Start.
func New(source Source, sink OutputSink, exits ExitHandler, log *logging.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		source: source,
		sink:   sink,
		exits:  exits,
		log:    logging.OrNop(log).WithComponent("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to the source. It may be called only once.
func (b *Bridge) Start() (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil, ErrAlreadyStarted
	}
	b.started = true

	h := &Handle{
		output: b.source.SubscribeOutput(b.onOutput),
		exit:   b.source.SubscribeExit(b.onExit),
	}
	b.log.Debug("bridge started")
	return h, nil
}

func (b *Bridge) onOutput(ev backend.OutputEvent) {
	if b.gens != nil {
		if gen, ok := b.gens.LiveGeneration(ev.ID); !ok || gen != ev.Generation {
			b.metrics.StaleEvent("output")
			return
		}
	}
	b.sink.Write(ev.ID, ev.Data)
}

func (b *Bridge) onExit(ev backend.ExitEvent) {
	b.exits.HandleExit(ev)
}

// Handle owns the bridge's subscriptions.
type Handle struct {
	output event.Subscription
	exit   event.Subscription
	once   sync.Once
}

// Close releases both subscriptions. It is idempotent.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.output.Unsubscribe()
		h.exit.Unsubscribe()
	})
}
