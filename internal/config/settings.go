// Package config loads rundeck settings.
//
// Settings are read from a TOML file, then overridden by RUNDECK_*
// environment variables, then by command-line flags in cmd/rundeck.
// Missing files are not an error; defaults apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/rundeck/internal/supervisor"
)

// AppDirName is the directory under the user config dir holding rundeck
// files.
const AppDirName = "RunDeck"

// Duration is a time.Duration written as a string ("300ms") in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Settings is the full settings tree.
type Settings struct {
	Log      LogSettings      `toml:"log"`
	Server   ServerSettings   `toml:"server"`
	Store    StoreSettings    `toml:"store"`
	Terminal TerminalSettings `toml:"terminal"`
	Output   OutputSettings   `toml:"output"`
	Process  ProcessSettings  `toml:"process"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerSettings configures the HTTP control surface.
type ServerSettings struct {
	Addr string `toml:"addr"`
}

// StoreSettings configures where run configurations are kept.
type StoreSettings struct {
	// Backend is "file" or "bolt".
	Backend string `toml:"backend"`
	// Path overrides the default store location.
	Path         string   `toml:"path"`
	SaveDebounce Duration `toml:"save_debounce"`
	// Watch reloads the catalog when the store file changes on disk.
	Watch bool `toml:"watch"`
}

// TerminalSettings configures spawned terminals.
type TerminalSettings struct {
	Shell      string `toml:"shell"`
	Cols       int    `toml:"cols"`
	Rows       int    `toml:"rows"`
	Scrollback int    `toml:"scrollback"`
}

// OutputSettings configures output coalescing.
type OutputSettings struct {
	FlushInterval Duration `toml:"flush_interval"`
	MaxChunks     int      `toml:"max_chunks"`
}

// ProcessSettings configures the supervisor.
type ProcessSettings struct {
	SettleDelay        Duration `toml:"settle_delay"`
	ExitConfirmTimeout Duration `toml:"exit_confirm_timeout"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Log:    LogSettings{Level: "info", Format: "console"},
		Server: ServerSettings{Addr: "127.0.0.1:7878"},
		Store: StoreSettings{
			Backend:      "file",
			SaveDebounce: Duration(200 * time.Millisecond),
			Watch:        true,
		},
		Terminal: TerminalSettings{
			Shell:      DefaultShell(),
			Cols:       120,
			Rows:       30,
			Scrollback: 1 << 20,
		},
		Output: OutputSettings{
			FlushInterval: Duration(16 * time.Millisecond),
			MaxChunks:     100,
		},
		Process: ProcessSettings{
			SettleDelay:        Duration(supervisor.DefaultSettleDelay),
			ExitConfirmTimeout: Duration(supervisor.DefaultExitConfirmTimeout),
		},
	}
}

// DefaultShell returns the user's shell, falling back to the platform
// default.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Dir returns the rundeck directory under the user config dir.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// DefaultPath returns the default settings file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.toml"), nil
}

// Load reads settings from path over the defaults. A missing file yields
// the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("reading settings %s: %w", path, err)
	}
	if err := Decode(path, data, &s); err != nil {
		return s, err
	}
	return s, nil
}

// Decode decodes TOML data onto s. Keys absent from data keep their
// current values.
func Decode(source string, data []byte, s *Settings) error {
	if err := toml.Unmarshal(data, s); err != nil {
		perr := &ParseError{Path: source, Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// Encode renders s as TOML.
func Encode(s Settings) ([]byte, error) {
	return toml.Marshal(s)
}

// Validate checks settings for unusable values.
func (s Settings) Validate() error {
	var problems []string
	switch s.Store.Backend {
	case "file", "bolt":
	default:
		problems = append(problems, fmt.Sprintf("store.backend %q must be file or bolt", s.Store.Backend))
	}
	switch strings.ToLower(s.Log.Format) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be console or json", s.Log.Format))
	}
	if s.Terminal.Cols <= 0 || s.Terminal.Cols > 0xffff || s.Terminal.Rows <= 0 || s.Terminal.Rows > 0xffff {
		problems = append(problems, "terminal.cols and terminal.rows must be between 1 and 65535")
	}
	if s.Terminal.Scrollback <= 0 {
		problems = append(problems, "terminal.scrollback must be positive")
	}
	if s.Output.FlushInterval <= 0 {
		problems = append(problems, "output.flush_interval must be positive")
	}
	if s.Output.MaxChunks <= 0 {
		problems = append(problems, "output.max_chunks must be positive")
	}
	if s.Process.SettleDelay.Std() < supervisor.DefaultSettleDelay {
		problems = append(problems, fmt.Sprintf("process.settle_delay must be at least %s", supervisor.DefaultSettleDelay))
	}
	if s.Process.ExitConfirmTimeout < 0 {
		problems = append(problems, "process.exit_confirm_timeout must not be negative")
	}
	if s.Store.SaveDebounce < 0 {
		problems = append(problems, "store.save_debounce must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(problems, "; "))
	}
	return nil
}
