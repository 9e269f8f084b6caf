// Package runconfig defines run configurations: named, persisted templates
// describing how to launch one process.
package runconfig

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Type identifies the launcher family of a configuration.
//
// Type is a closed set. Code that switches over it must handle every
// value listed in Types.
type Type string

const (
	TypeShell      Type = "shell"
	TypeGradle     Type = "gradle"
	TypeMaven      Type = "maven"
	TypeNode       Type = "node"
	TypeDocker     Type = "docker"
	TypeSpringBoot Type = "spring-boot"
)

// Types returns every supported configuration type in display order.
func Types() []Type {
	return []Type{TypeShell, TypeGradle, TypeMaven, TypeNode, TypeDocker, TypeSpringBoot}
}

// Valid reports whether t is one of the supported types.
func (t Type) Valid() bool {
	return slices.Contains(Types(), t)
}

// ParseType parses a type name case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Defaults for a newly created configuration.
const (
	DefaultRestartDelay = 1000
	DefaultMaxRetries   = 3
)

// RunConfig describes how to launch one process.
type RunConfig struct {
	// ID is unique and never changes after creation.
	ID   string `json:"id"`
	Name string `json:"name"`
	Type Type   `json:"type"`

	// Command is interpreted per type: a command line for shell, the
	// task/goal for build tools, the script for node and the compose file
	// for docker.
	Command    string            `json:"command,omitempty"`
	WorkingDir string            `json:"workingDir,omitempty"`
	Env        map[string]string `json:"env"`
	Args       []string          `json:"args"`
	FolderID   string            `json:"folderId,omitempty"`
	Color      string            `json:"color,omitempty"`

	AutoRestart bool `json:"autoRestart"`
	// RestartDelay is in milliseconds.
	RestartDelay int `json:"restartDelay"`
	MaxRetries   int `json:"maxRetries"`
}

// New returns a configuration with a fresh ID and default restart policy.
func New(name string, t Type) RunConfig {
	return RunConfig{
		ID:           uuid.NewString(),
		Name:         name,
		Type:         t,
		Env:          map[string]string{},
		Args:         []string{},
		RestartDelay: DefaultRestartDelay,
		MaxRetries:   DefaultMaxRetries,
	}
}

// Validate checks the configuration for structural errors.
func (c RunConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidConfig)
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("%w: %s: missing name", ErrInvalidConfig, c.ID)
	case !c.Type.Valid():
		return fmt.Errorf("%w: %s: %w: %q", ErrInvalidConfig, c.ID, ErrUnknownType, c.Type)
	case c.RestartDelay < 0:
		return fmt.Errorf("%w: %s: negative restart delay", ErrInvalidConfig, c.ID)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: %s: negative max retries", ErrInvalidConfig, c.ID)
	}
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("%w: %s: invalid environment key %q", ErrInvalidConfig, c.ID, k)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c RunConfig) Clone() RunConfig {
	out := c
	out.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		out.Env[k] = v
	}
	out.Args = append([]string{}, c.Args...)
	return out
}

// Duplicate returns a copy with a new ID and a "(Copy)" suffix on the name.
func (c RunConfig) Duplicate() RunConfig {
	out := c.Clone()
	out.ID = uuid.NewString()
	out.Name = c.Name + " (Copy)"
	return out
}

// Folder groups configurations in the sidebar.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Expanded bool   `json:"expanded"`
}

// AppConfig is the persisted document owned by the configuration store.
type AppConfig struct {
	Configs     []RunConfig `json:"configs"`
	Folders     []Folder    `json:"folders"`
	ConfigOrder []string    `json:"configOrder"`
}

// Find returns the configuration with the given ID.
func (a AppConfig) Find(id string) (RunConfig, bool) {
	for _, c := range a.Configs {
		if c.ID == id {
			return c, true
		}
	}
	return RunConfig{}, false
}

// Lookup resolves ref as an ID first and then as a case-insensitive name.
func (a AppConfig) Lookup(ref string) (RunConfig, bool) {
	if c, ok := a.Find(ref); ok {
		return c, true
	}
	for _, c := range a.Configs {
		if strings.EqualFold(c.Name, ref) {
			return c, true
		}
	}
	return RunConfig{}, false
}

// Ordered returns the configurations in ConfigOrder, followed by any
// configurations missing from the order.
func (a AppConfig) Ordered() []RunConfig {
	byID := make(map[string]RunConfig, len(a.Configs))
	for _, c := range a.Configs {
		byID[c.ID] = c
	}
	out := make([]RunConfig, 0, len(a.Configs))
	seen := make(map[string]bool, len(a.Configs))
	for _, id := range a.ConfigOrder {
		if c, ok := byID[id]; ok && !seen[id] {
			out = append(out, c)
			seen[id] = true
		}
	}
	for _, c := range a.Configs {
		if !seen[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy.
func (a AppConfig) Clone() AppConfig {
	out := AppConfig{
		Configs:     make([]RunConfig, len(a.Configs)),
		Folders:     append([]Folder{}, a.Folders...),
		ConfigOrder: append([]string{}, a.ConfigOrder...),
	}
	for i, c := range a.Configs {
		out.Configs[i] = c.Clone()
	}
	return out
}
