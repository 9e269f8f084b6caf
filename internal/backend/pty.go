package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dshills/rundeck/internal/event"
	"github.com/dshills/rundeck/internal/logging"
)

const (
	defaultCols    = 120
	defaultRows    = 30
	readBufferSize = 8192

	// drainTimeout bounds how long output is drained after the process
	// exits. Orphaned children holding the terminal open would otherwise
	// keep the reader blocked forever.
	drainTimeout = 250 * time.Millisecond
)

// PTYBackend runs each process attached to its own pseudo-terminal.
//
// PTYBackend is safe for concurrent use.
type PTYBackend struct {
	mu     sync.Mutex
	procs  map[string]*ptyProcess
	closed bool

	cols, rows uint16
	env        []string
	log        *logging.Logger

	output *event.Feed[OutputEvent]
	exits  *event.Feed[ExitEvent]
}

// ptyProcess is one spawned process.
type ptyProcess struct {
	id   string
	gen  uint64
	cmd  *exec.Cmd
	tty  *os.File
	done chan struct{}

	closeOnce sync.Once
}

// PTYOption configures a PTYBackend.
type PTYOption func(*PTYBackend)

// WithSize sets the initial terminal size of spawned processes.
func WithSize(cols, rows uint16) PTYOption {
	return func(b *PTYBackend) {
		if cols > 0 {
			b.cols = cols
		}
		if rows > 0 {
			b.rows = rows
		}
	}
}

// WithLogger sets the backend logger.
func WithLogger(l *logging.Logger) PTYOption {
	return func(b *PTYBackend) {
		b.log = logging.OrNop(l).WithComponent("backend")
	}
}

// WithBaseEnv sets the environment spawned processes inherit.
// It defaults to os.Environ().
func WithBaseEnv(env []string) PTYOption {
	return func(b *PTYBackend) {
		b.env = env
	}
}

// NewPTYBackend creates a pseudo-terminal backend.
func NewPTYBackend(opts ...PTYOption) *PTYBackend {
	b := &PTYBackend{
		procs:  make(map[string]*ptyProcess),
		cols:   defaultCols,
		rows:   defaultRows,
		log:    logging.Nop(),
		output: event.NewFeed[OutputEvent](),
		exits:  event.NewFeed[ExitEvent](),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.env == nil {
		b.env = os.Environ()
	}
	b.output.OnPanic(func(r any) { b.log.Error("output handler panicked", "panic", r) })
	b.exits.OnPanic(func(r any) { b.log.Error("exit handler panicked", "panic", r) })
	return b
}

// Spawn starts req.Command on a new pseudo-terminal.
func (b *PTYBackend) Spawn(ctx context.Context, req SpawnRequest) error {
	if req.Command == "" {
		return ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	prev := b.procs[req.ID]
	delete(b.procs, req.ID)
	b.mu.Unlock()

	if prev != nil {
		b.log.Warn("replacing live process", "id", req.ID, "generation", prev.gen)
		prev.terminate()
	}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(b.env, req.Env)

	tty, err := startPTY(cmd, b.cols, b.rows)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", req.Command, err)
	}

	p := &ptyProcess{
		id:   req.ID,
		gen:  req.Generation,
		cmd:  cmd,
		tty:  tty,
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		p.terminate()
		return ErrClosed
	}
	b.procs[req.ID] = p
	b.mu.Unlock()

	b.log.Debug("process spawned", "id", req.ID, "generation", req.Generation, "pid", cmd.Process.Pid)
	go b.run(p)
	return nil
}

// Kill terminates the process for id and reports an exit with no code.
func (b *PTYBackend) Kill(ctx context.Context, id string) error {
	b.mu.Lock()
	p, ok := b.procs[id]
	if ok {
		delete(b.procs, id)
	}
	b.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	p.terminate()
	b.log.Debug("process killed", "id", id, "generation", p.gen)
	b.exits.Publish(ExitEvent{ID: id, Generation: p.gen})
	return nil
}

// Resize changes the terminal size for id.
func (b *PTYBackend) Resize(id string, cols, rows uint16) error {
	p, err := b.lookup(id)
	if err != nil {
		return err
	}
	return setWinSize(p.tty, cols, rows)
}

// Write sends data to the terminal for id.
func (b *PTYBackend) Write(id string, data []byte) error {
	p, err := b.lookup(id)
	if err != nil {
		return err
	}
	_, err = p.tty.Write(data)
	return err
}

// SubscribeOutput registers a handler for output events.
func (b *PTYBackend) SubscribeOutput(fn func(OutputEvent)) event.Subscription {
	return b.output.Subscribe(fn)
}

// SubscribeExit registers a handler for exit events.
func (b *PTYBackend) SubscribeExit(fn func(ExitEvent)) event.Subscription {
	return b.exits.Subscribe(fn)
}

// IsRunning reports whether a process is live under id.
func (b *PTYBackend) IsRunning(id string) bool {
	_, err := b.lookup(id)
	return err == nil
}

// Close kills every process without reporting exits.
func (b *PTYBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	procs := b.procs
	b.procs = make(map[string]*ptyProcess)
	b.mu.Unlock()

	var err error
	for id, p := range procs {
		if kerr := p.terminate(); kerr != nil {
			err = multierr.Append(err, fmt.Errorf("kill %s: %w", id, kerr))
		}
	}
	b.output.Close()
	b.exits.Close()
	return err
}

func (b *PTYBackend) lookup(id string) (*ptyProcess, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.procs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// isCurrent reports whether p is still the live process for its id.
func (b *PTYBackend) isCurrent(p *ptyProcess) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.procs[p.id]
	return ok && cur == p && cur.gen == p.gen
}

// retire removes p if it is still current and reports whether it was.
func (b *PTYBackend) retire(p *ptyProcess) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.procs[p.id]; ok && cur == p {
		delete(b.procs, p.id)
		return true
	}
	return false
}

// run drains output, reaps the process and reports its exit.
func (b *PTYBackend) run(p *ptyProcess) {
	defer close(p.done)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		b.readLoop(p)
	}()

	_ = p.cmd.Wait()

	select {
	case <-readDone:
	case <-time.After(drainTimeout):
		p.closeTTY()
		<-readDone
	}
	p.closeTTY()

	if !b.retire(p) {
		return
	}
	code := exitCode(p.cmd.ProcessState)
	b.log.Debug("process exited", "id", p.id, "generation", p.gen, "code", formatCode(code))
	b.exits.Publish(ExitEvent{ID: p.id, Generation: p.gen, Code: code})
}

func (b *PTYBackend) readLoop(p *ptyProcess) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.tty.Read(buf)
		if n > 0 && b.isCurrent(p) {
			data := make([]byte, n)
			copy(data, buf[:n])
			b.output.Publish(OutputEvent{ID: p.id, Generation: p.gen, Data: data})
		}
		if err != nil {
			// EIO once the last slave descriptor closes on Linux.
			return
		}
	}
}

// terminate kills the process group and releases the terminal.
func (p *ptyProcess) terminate() error {
	err := killProcess(p.cmd.Process)
	p.closeTTY()
	return err
}

func (p *ptyProcess) closeTTY() {
	p.closeOnce.Do(func() {
		_ = p.tty.Close()
	})
}

// exitCode returns the exit status. A process ended by a signal reports
// 128 plus the signal number, as shells do.
func exitCode(state *os.ProcessState) *int {
	if state == nil {
		return IntPtr(-1)
	}
	if sig, ok := signalled(state); ok {
		return IntPtr(128 + sig)
	}
	return IntPtr(state.ExitCode())
}

func formatCode(code *int) string {
	if code == nil {
		return "none"
	}
	return fmt.Sprint(*code)
}

// mergeEnv overlays extra on base in a stable order and sets TERM when the
// base environment lacks it.
func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	seen := make(map[string]bool, len(extra))
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
		seen[k] = true
	}
	sort.Strings(keys)

	hasTerm := false
	for _, kv := range base {
		k := envKey(kv)
		if seen[k] {
			continue
		}
		if k == "TERM" {
			hasTerm = true
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		if k == "TERM" {
			hasTerm = true
		}
		env = append(env, k+"="+extra[k])
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	return env
}

func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}
