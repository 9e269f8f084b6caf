// Package supervisor owns the lifecycle of one process per run
// configuration.
//
// Each configuration id has its own state machine:
//
//	stopped -> starting -> running
//	any     -> error      on spawn failure or a non-zero exit
//	any     -> stopped    on Stop or a clean exit
//
// Start, Stop and Restart for one id are serialized by a per-id lock, so a
// restart (kill, settle delay, start) is never interleaved with another
// operation on the same id. Exit events are handled without that lock and
// are matched against the generation of the live spawn; events from
// retired generations are discarded.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dshills/rundeck/internal/backend"
	"github.com/dshills/rundeck/internal/command"
	"github.com/dshills/rundeck/internal/event"
	"github.com/dshills/rundeck/internal/logging"
	"github.com/dshills/rundeck/internal/metrics"
	"github.com/dshills/rundeck/internal/runconfig"
)

// Defaults for Options.
const (
	DefaultSettleDelay        = 300 * time.Millisecond
	DefaultExitConfirmTimeout = 2 * time.Second
)

// CommandBuilder turns a configuration into an invocation.
type CommandBuilder interface {
	Build(cfg runconfig.RunConfig) command.Invocation
}

// ProcessBackend is the part of backend.Backend the supervisor drives.
type ProcessBackend interface {
	Spawn(ctx context.Context, req backend.SpawnRequest) error
	Kill(ctx context.Context, id string) error
}

// Supervisor manages one process per configuration id.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	builder CommandBuilder
	backend ProcessBackend

	settleDelay        time.Duration
	exitConfirmTimeout time.Duration
	log                *logging.Logger
	metrics            *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	changes *event.Feed[StateChange]
}

// entry is the per-id record. op serializes operations; every other field
// is guarded by Supervisor.mu.
type entry struct {
	op sync.Mutex

	state      ProcessState
	generation uint64        // last generation issued
	live       uint64        // generation of the live spawn, 0 when none
	exited     chan struct{} // closed when the live generation is retired
	config     runconfig.RunConfig
	retry      *time.Timer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSettleDelay sets the pause between kill and start in Restart.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.settleDelay = d
	}
}

// WithExitConfirmTimeout bounds how long Restart waits for the killed
// process's exit event.
func WithExitConfirmTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.exitConfirmTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) {
		s.log = logging.OrNop(l).WithComponent("supervisor")
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// New creates a supervisor that builds commands with builder and runs them
// on be.
func New(builder CommandBuilder, be ProcessBackend, opts ...Option) *Supervisor {
	s := &Supervisor{
		builder:            builder,
		backend:            be,
		settleDelay:        DefaultSettleDelay,
		exitConfirmTimeout: DefaultExitConfirmTimeout,
		log:                logging.Nop(),
		entries:            make(map[string]*entry),
		changes:            event.NewFeed[StateChange](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.changes.OnPanic(func(r any) { s.log.Error("state observer panicked", "panic", r) })
	return s
}

// Start launches the process for cfg. It is a no-op when the process is
// already starting or running. A failed spawn leaves the id in the error
// state and is returned as a *SpawnError.
func (s *Supervisor) Start(ctx context.Context, cfg runconfig.RunConfig) error {
	e, err := s.entry(cfg.ID)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	return s.startLocked(ctx, e, cfg)
}

// Stop kills the process for id. A missing process is not an error; the
// id always ends up stopped.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	e := s.lookupOrCreate(id)
	e.op.Lock()
	defer e.op.Unlock()

	if err := s.backend.Kill(ctx, id); err != nil && !errors.Is(err, backend.ErrNotFound) {
		s.log.Warn("kill failed", "id", id, "error", err)
	}

	s.mu.Lock()
	s.retire(e)
	s.cancelRetry(e)
	prev := e.state.Status
	e.state.Status = StatusStopped
	st := e.state.clone()
	s.mu.Unlock()

	s.publish(id, prev, st)
	return nil
}

// Restart kills the process for cfg, waits for it to settle and starts it
// again. The sequence is atomic with respect to other operations on the
// same id.
func (s *Supervisor) Restart(ctx context.Context, cfg runconfig.RunConfig) error {
	e, err := s.entry(cfg.ID)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	return s.restartLocked(ctx, e, cfg)
}

// HandleExit applies an exit event. Events from retired generations are
// discarded. HandleExit never blocks on a running operation.
func (s *Supervisor) HandleExit(ev backend.ExitEvent) {
	s.mu.Lock()
	e, ok := s.entries[ev.ID]
	if !ok || e.live == 0 || e.live != ev.Generation {
		s.mu.Unlock()
		s.metrics.StaleEvent("exit")
		s.log.Debug("stale exit discarded", "id", ev.ID, "generation", ev.Generation)
		return
	}

	s.retire(e)
	prev := e.state.Status
	switch {
	case ev.Code == nil:
		e.state.Status = StatusStopped
		e.state.ExitCode = nil
	case *ev.Code == 0:
		e.state.Status = StatusStopped
		e.state.ExitCode = backend.IntPtr(0)
	default:
		e.state.Status = StatusError
		e.state.ExitCode = backend.IntPtr(*ev.Code)
	}

	retry := s.scheduleRetry(e, ev)
	st := e.state.clone()
	s.mu.Unlock()

	s.log.Info("process exited", "id", ev.ID, "generation", ev.Generation, "status", st.Status, "code", codeString(ev.Code))
	if retry {
		s.metrics.AutoRestartScheduled()
	}
	s.publish(ev.ID, prev, st)
}

// State returns the state of id. Unknown ids report stopped.
func (s *Supervisor) State(id string) ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.state.clone()
	}
	return ProcessState{Status: StatusStopped}
}

// States returns a snapshot of every known id.
func (s *Supervisor) States() map[string]ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ProcessState, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.state.clone()
	}
	return out
}

// LiveGeneration returns the generation of the live spawn for id.
func (s *Supervisor) LiveGeneration(id string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.live != 0 {
		return e.live, true
	}
	return 0, false
}

// Subscribe registers fn for state changes.
func (s *Supervisor) Subscribe(fn func(StateChange)) event.Subscription {
	return s.changes.Subscribe(fn)
}

// Shutdown kills every live process and refuses further starts.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var ids []string
	for id, e := range s.entries {
		s.cancelRetry(e)
		if e.live != 0 || e.state.Status.Live() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var err error
	for _, id := range ids {
		if kerr := s.backend.Kill(ctx, id); kerr != nil && !errors.Is(kerr, backend.ErrNotFound) {
			err = multierr.Append(err, fmt.Errorf("kill %s: %w", id, kerr))
		}

		s.mu.Lock()
		e := s.entries[id]
		s.retire(e)
		prev := e.state.Status
		e.state.Status = StatusStopped
		st := e.state.clone()
		s.mu.Unlock()
		s.publish(id, prev, st)
	}

	s.log.Info("supervisor shut down", "stopped", len(ids))
	s.changes.Close()
	return err
}

func (s *Supervisor) startLocked(ctx context.Context, e *entry, cfg runconfig.RunConfig) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	if e.state.Status.Live() {
		s.mu.Unlock()
		s.log.Debug("start ignored, already active", "id", cfg.ID, "status", e.state.Status)
		return nil
	}

	s.cancelRetry(e)
	e.generation++
	gen := e.generation
	e.live = gen
	e.exited = make(chan struct{})
	e.config = cfg.Clone()
	prev := e.state.Status
	e.state.Status = StatusStarting
	e.state.ExitCode = nil
	st := e.state.clone()
	s.mu.Unlock()
	s.publish(cfg.ID, prev, st)

	inv := s.builder.Build(cfg)
	s.log.Info("starting process", "id", cfg.ID, "name", cfg.Name, "generation", gen, "command", inv.String())

	begin := time.Now()
	err := s.backend.Spawn(ctx, backend.SpawnRequest{
		ID:         cfg.ID,
		Generation: gen,
		Command:    inv.Command,
		Args:       inv.Args,
		Dir:        cfg.WorkingDir,
		Env:        cfg.Env,
	})

	s.mu.Lock()
	if err != nil {
		if e.live == gen {
			s.retire(e)
		}
		prev = e.state.Status
		e.state.Status = StatusError
		e.state.ExitCode = nil
		st = e.state.clone()
		s.mu.Unlock()

		s.metrics.SpawnFailed()
		s.log.Error("spawn failed", "id", cfg.ID, "generation", gen, "error", err)
		s.publish(cfg.ID, prev, st)
		return &SpawnError{ID: cfg.ID, Command: inv.String(), Err: err}
	}

	// An exit may already have been handled for this generation.
	if e.live != gen || e.state.Status != StatusStarting {
		s.mu.Unlock()
		s.metrics.SpawnSucceeded(time.Since(begin))
		return nil
	}
	prev = e.state.Status
	e.state.Status = StatusRunning
	e.state.StartedAt = time.Now()
	st = e.state.clone()
	s.mu.Unlock()

	s.metrics.SpawnSucceeded(time.Since(begin))
	s.publish(cfg.ID, prev, st)
	return nil
}

func (s *Supervisor) restartLocked(ctx context.Context, e *entry, cfg runconfig.RunConfig) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.cancelRetry(e)
	exited := e.exited
	wasLive := e.live != 0
	s.mu.Unlock()

	if err := s.backend.Kill(ctx, cfg.ID); err != nil && !errors.Is(err, backend.ErrNotFound) {
		s.log.Debug("kill during restart failed", "id", cfg.ID, "error", err)
	}

	time.Sleep(s.settleDelay)
	if wasLive && exited != nil {
		select {
		case <-exited:
		case <-time.After(s.exitConfirmTimeout):
			s.log.Warn("no exit confirmation before restart", "id", cfg.ID, "timeout", s.exitConfirmTimeout)
		}
	}

	s.mu.Lock()
	s.retire(e)
	e.state.RestartCount++
	prev := e.state.Status
	e.state.Status = StatusStopped
	e.state.ExitCode = nil
	st := e.state.clone()
	s.mu.Unlock()

	s.metrics.Restarted()
	s.log.Info("restarting process", "id", cfg.ID, "restarts", st.RestartCount)
	s.publish(cfg.ID, prev, st)
	return s.startLocked(ctx, e, cfg)
}

// scheduleRetry arms an automatic restart after a failed exit. Caller
// holds mu.
func (s *Supervisor) scheduleRetry(e *entry, ev backend.ExitEvent) bool {
	cfg := e.config
	if s.closed || ev.Code == nil || *ev.Code == 0 || !cfg.AutoRestart {
		return false
	}
	if e.state.RestartCount >= cfg.MaxRetries {
		s.log.Warn("auto-restart limit reached", "id", ev.ID, "restarts", e.state.RestartCount, "max", cfg.MaxRetries)
		return false
	}

	s.cancelRetry(e)
	gen := e.generation
	delay := time.Duration(cfg.RestartDelay) * time.Millisecond
	e.retry = time.AfterFunc(delay, func() {
		s.autoRestart(ev.ID, gen)
	})
	return true
}

func (s *Supervisor) autoRestart(id string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	e.op.Lock()
	defer e.op.Unlock()

	s.mu.Lock()
	if s.closed || e.generation != gen || e.state.Status != StatusError {
		s.mu.Unlock()
		s.metrics.StaleEvent("restart")
		s.log.Debug("auto-restart discarded", "id", id, "generation", gen)
		return
	}
	e.retry = nil
	cfg := e.config.Clone()
	s.mu.Unlock()

	if err := s.restartLocked(context.Background(), e, cfg); err != nil {
		s.log.Warn("auto-restart failed", "id", id, "error", err)
	}
}

// retire forgets the live generation so its events become stale. Caller
// holds mu.
func (s *Supervisor) retire(e *entry) {
	if e.exited != nil {
		close(e.exited)
		e.exited = nil
	}
	e.live = 0
}

// cancelRetry stops a pending automatic restart. Caller holds mu.
func (s *Supervisor) cancelRetry(e *entry) {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
}

func (s *Supervisor) entry(id string) (*entry, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}
	return s.lookupOrCreate(id), nil
}

func (s *Supervisor) lookupOrCreate(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{state: ProcessState{Status: StatusStopped}}
		s.entries[id] = e
	}
	return e
}

func (s *Supervisor) publish(id string, prev Status, st ProcessState) {
	if prev == st.Status && prev != StatusStopped {
		return
	}
	s.metrics.SetRunning(s.count(StatusRunning))
	s.changes.Publish(StateChange{ID: id, Previous: prev, State: st})
}

func (s *Supervisor) count(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.state.Status == status {
			n++
		}
	}
	return n
}

func codeString(code *int) string {
	if code == nil {
		return "none"
	}
	return fmt.Sprint(*code)
}
