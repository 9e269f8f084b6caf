package backend

import "errors"

// Backend errors.
var (
	// ErrNotFound indicates no process is running under the id.
	ErrNotFound = errors.New("process not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrPTYNotSupported indicates the platform has no PTY support.
	ErrPTYNotSupported = errors.New("pty not supported on this platform")

	// ErrEmptyCommand indicates a spawn request without an executable.
	ErrEmptyCommand = errors.New("empty command")
)
