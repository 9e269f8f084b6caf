// Package backend defines the process backend used by the supervisor and
// provides a pseudo-terminal implementation.
//
// A backend spawns one external process per configuration id and reports
// two event streams: output chunks and process exits. Every event echoes
// the generation of the spawn request that produced it, which lets
// consumers discard events from processes they have already retired.
package backend

import (
	"context"

	"github.com/dshills/rundeck/internal/event"
)

// SpawnRequest describes a process to start.
type SpawnRequest struct {
	ID         string
	Generation uint64
	Command    string
	Args       []string
	Dir        string
	Env        map[string]string
}

// OutputEvent is a chunk of process output.
type OutputEvent struct {
	ID         string
	Generation uint64
	Data       []byte
}

// ExitEvent reports that a process ended. Code is nil only when the backend
// killed the process on request. A process ended by a signal it did not ask
// for reports 128 plus the signal number.
type ExitEvent struct {
	ID         string
	Generation uint64
	Code       *int
}

// Backend spawns and controls external processes.
type Backend interface {
	// Spawn starts a process for req.ID. A process still running under the
	// same id is killed first and its exit is not reported.
	Spawn(ctx context.Context, req SpawnRequest) error

	// Kill terminates the process for id. It returns ErrNotFound when no
	// process is running under id.
	Kill(ctx context.Context, id string) error

	// Resize changes the terminal size of the process for id.
	Resize(id string, cols, rows uint16) error

	// Write sends input to the process for id.
	Write(id string, data []byte) error

	// SubscribeOutput registers a handler for output events.
	SubscribeOutput(fn func(OutputEvent)) event.Subscription

	// SubscribeExit registers a handler for exit events.
	SubscribeExit(fn func(ExitEvent)) event.Subscription

	// Close kills every process and releases all subscribers.
	Close() error
}

// IntPtr returns a pointer to code.
func IntPtr(code int) *int {
	return &code
}
