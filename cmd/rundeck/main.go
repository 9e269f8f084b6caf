// Package main is the entry point for the RunDeck process runner.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dshills/rundeck/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options are the global flags.
type options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Addr       string
	StorePath  string
	Store      string
	Shell      string
	Debug      bool
}

// cli carries the streams and resolved settings into a command.
type cli struct {
	stdout   io.Writer
	stderr   io.Writer
	settings config.Settings
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(c *cli, args []string) int
}

var commands = []command{
	{"serve", "serve", "Run the control server", cmdServe},
	{"list", "list", "List run configurations", cmdList},
	{"run", "run <id|name>", "Run a configuration in the foreground", cmdRun},
	{"import", "import [-name n] [-project dir] <file.run.xml>", "Import an IntelliJ Spring Boot run configuration", cmdImport},
	{"discover", "discover [-add] [dir]", "Propose configurations from a project's build files", cmdDiscover},
	{"version", "version", "Show version information", cmdVersion},
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rundeck", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	var showVersion bool
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to settings file")
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to settings file (shorthand)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.LogFormat, "log-format", "", "Log format (console, json)")
	fs.StringVar(&opts.Addr, "addr", "", "Control server listen address")
	fs.StringVar(&opts.Store, "store", "", "Store backend (file, bolt)")
	fs.StringVar(&opts.StorePath, "store-path", "", "Store location")
	fs.StringVar(&opts.Shell, "shell", "", "Shell used for shell configurations")
	fs.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&opts.Debug, "d", false, "Enable debug logging (shorthand)")
	fs.BoolVar(&showVersion, "version", false, "Show version information")
	fs.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "RunDeck - local process runner\n\n")
		fmt.Fprintf(stderr, "Usage: rundeck [options] <command> [args]\n\n")
		fmt.Fprintf(stderr, "Commands:\n")
		for _, c := range commands {
			fmt.Fprintf(stderr, "  %-48s %s\n", c.usage, c.summary)
		}
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if showVersion {
		return cmdVersion(&cli{stdout: stdout, stderr: stderr}, nil)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == rest[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "Error: unknown command %q\n", rest[0])
		fs.Usage()
		return 2
	}

	settings, err := loadSettings(opts, os.Environ())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	return cmd.run(&cli{stdout: stdout, stderr: stderr, settings: settings}, rest[1:])
}

// loadSettings layers the settings file, the environment and the flags.
func loadSettings(opts options, environ []string) (config.Settings, error) {
	path := opts.ConfigPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}

	s, err := config.Load(path)
	if err != nil {
		return s, err
	}
	if err := config.ApplyEnv(&s, config.EnvPrefix, environ); err != nil {
		return s, err
	}

	if opts.LogLevel != "" {
		s.Log.Level = opts.LogLevel
	}
	if opts.Debug {
		s.Log.Level = "debug"
	}
	if opts.LogFormat != "" {
		s.Log.Format = opts.LogFormat
	}
	if opts.Addr != "" {
		s.Server.Addr = opts.Addr
	}
	if opts.Store != "" {
		s.Store.Backend = strings.ToLower(opts.Store)
	}
	if opts.StorePath != "" {
		s.Store.Path = opts.StorePath
	}
	if opts.Shell != "" {
		s.Terminal.Shell = opts.Shell
	}

	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return s, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", s.Log.Level)
	}
	return s, s.Validate()
}
