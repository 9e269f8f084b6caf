package supervisor

import "time"

// Status is the lifecycle state of a configuration's process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Live reports whether the status implies a process may be alive.
func (s Status) Live() bool {
	return s == StatusStarting || s == StatusRunning
}

// ProcessState is the observable state of one configuration.
type ProcessState struct {
	Status       Status    `json:"status"`
	ExitCode     *int      `json:"exitCode,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	RestartCount int       `json:"restartCount"`
}

func (s ProcessState) clone() ProcessState {
	if s.ExitCode != nil {
		code := *s.ExitCode
		s.ExitCode = &code
	}
	return s
}

// StateChange is published whenever a configuration's status changes.
type StateChange struct {
	ID       string       `json:"id"`
	Previous Status       `json:"previous"`
	State    ProcessState `json:"state"`
}
