package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned once the supervisor has been shut down.
	ErrShutdown = errors.New("supervisor shut down")

	// ErrEmptyID is returned for configurations without an id.
	ErrEmptyID = errors.New("configuration has no id")
)

// SpawnError reports a failed spawn. The configuration is left in the
// error state.
type SpawnError struct {
	ID      string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.ID, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
