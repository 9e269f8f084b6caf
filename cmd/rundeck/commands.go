package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/dshills/rundeck/internal/app"
	"github.com/dshills/rundeck/internal/config"
	"github.com/dshills/rundeck/internal/discover"
	"github.com/dshills/rundeck/internal/output"
	"github.com/dshills/rundeck/internal/runconfig"
	"github.com/dshills/rundeck/internal/supervisor"
)

// exitInterrupted is the conventional status after SIGINT.
const exitInterrupted = 130

func newApp(c *cli, s config.Settings) (*app.Application, bool) {
	application, err := app.New(app.Options{Settings: s, Version: version})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: failed to initialize: %v\n", err)
		return nil, false
	}
	return application, true
}

func shutdown(c *cli, application *app.Application) {
	if err := application.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(c.stderr, "Error: shutdown: %v\n", err)
	}
}

// quiet keeps informational logs out of the way of command output.
func quiet(s config.Settings) config.Settings {
	if s.Log.Level == "" || s.Log.Level == "info" {
		s.Log.Level = "warn"
	}
	s.Store.Watch = false
	return s
}

func cmdServe(c *cli, args []string) int {
	if len(args) != 0 {
		fmt.Fprintf(c.stderr, "Error: serve takes no arguments\n")
		return 2
	}
	application, ok := newApp(c, c.settings)
	if !ok {
		return 1
	}
	defer shutdown(c, application)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx, nil); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func cmdList(c *cli, args []string) int {
	application, ok := newApp(c, quiet(c.settings))
	if !ok {
		return 1
	}
	defer shutdown(c, application)

	configs := application.Catalog().Configs()
	if len(configs) == 0 {
		fmt.Fprintln(c.stdout, "No run configurations.")
		return 0
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tCOMMAND")
	for _, cfg := range configs {
		inv := application.Builder().Build(cfg)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cfg.ID, cfg.Name, cfg.Type, inv.String())
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func cmdRun(c *cli, args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(c.stderr, "Usage: rundeck run <id|name>\n")
		return 2
	}

	s := quiet(c.settings)
	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil && cols > 0 && rows > 0 {
		s.Terminal.Cols, s.Terminal.Rows = cols, rows
	}

	application, ok := newApp(c, s)
	if !ok {
		return 1
	}
	defer shutdown(c, application)

	cfg, err := application.Catalog().Lookup(args[0])
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := application.Output()
	outSub := out.Subscribe(func(f output.Flush) {
		if f.ID == cfg.ID && len(f.Data) > 0 {
			_, _ = c.stdout.Write(f.Data)
		}
	})
	defer outSub.Unsubscribe()

	done := make(chan supervisor.ProcessState, 1)
	stateSub := application.Supervisor().Subscribe(func(ch supervisor.StateChange) {
		if ch.ID != cfg.ID || !finished(cfg, ch.State) {
			return
		}
		select {
		case done <- ch.State:
		default:
		}
	})
	defer stateSub.Unsubscribe()

	fmt.Fprintf(c.stderr, "Running %s: %s\n", cfg.Name, application.Builder().Build(cfg))
	if err := application.Supervisor().Start(ctx, cfg); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	be := application.Backend()
	stopResize := watchResize(func() {
		if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			_ = be.Resize(cfg.ID, uint16(cols), uint16(rows))
		}
	})
	defer stopResize()
	go forwardInput(os.Stdin, func(p []byte) error { return be.Write(cfg.ID, p) })

	select {
	case st := <-done:
		out.Flush(cfg.ID)
		fmt.Fprintf(c.stderr, "%s exited (%s)\n", cfg.Name, describe(st))
		return exitStatus(st)
	case <-ctx.Done():
		fmt.Fprintf(c.stderr, "\nStopping %s\n", cfg.Name)
		if err := application.Supervisor().Stop(context.Background(), cfg.ID); err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
		}
		out.Flush(cfg.ID)
		return exitInterrupted
	}
}

// finished reports whether st is final for a foreground run: the process
// stopped, or failed with no automatic restart left.
func finished(cfg runconfig.RunConfig, st supervisor.ProcessState) bool {
	switch st.Status {
	case supervisor.StatusStopped:
		return true
	case supervisor.StatusError:
		return !cfg.AutoRestart || st.RestartCount >= cfg.MaxRetries
	}
	return false
}

func exitStatus(st supervisor.ProcessState) int {
	switch {
	case st.ExitCode != nil:
		return *st.ExitCode
	case st.Status == supervisor.StatusError:
		return 1
	}
	return 0
}

func describe(st supervisor.ProcessState) string {
	if st.ExitCode != nil {
		return fmt.Sprintf("%s, code %d", st.Status, *st.ExitCode)
	}
	return string(st.Status)
}

// forwardInput copies r to write until r fails.
func forwardInput(r io.Reader, write func([]byte) error) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if werr := write(data); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func cmdImport(c *cli, args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	name := fs.String("name", "", "Name for the imported configuration")
	project := fs.String("project", "", "Project directory that relative working directories resolve against")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(c.stderr, "Usage: rundeck import [-name n] [-project dir] <file.run.xml>\n")
		return 2
	}

	cfg, err := importRunXML(fs.Arg(0), *name, *project)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	application, ok := newApp(c, quiet(c.settings))
	if !ok {
		return 1
	}
	defer shutdown(c, application)

	added, err := application.Catalog().Add(cfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Imported %s (%s)\n", added.Name, added.ID)
	return 0
}

// importRunXML reads an IntelliJ run configuration file.
func importRunXML(path, name, project string) (runconfig.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runconfig.RunConfig{}, err
	}
	x, err := runconfig.ParseIntelliJRunXML(data)
	if err != nil {
		return runconfig.RunConfig{}, fmt.Errorf("%s: %w", path, err)
	}

	cfg := x.ToRunConfig(name)
	if project != "" && !filepath.IsAbs(cfg.WorkingDir) {
		cfg.WorkingDir = filepath.Join(project, cfg.WorkingDir)
	}
	return cfg, nil
}

func cmdDiscover(c *cli, args []string) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	add := fs.Bool("add", false, "Add the proposed configurations to the store")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	dir := "."
	switch fs.NArg() {
	case 0:
	case 1:
		dir = fs.Arg(0)
	default:
		fmt.Fprintf(c.stderr, "Usage: rundeck discover [-add] [dir]\n")
		return 2
	}

	found, err := discover.Dir(context.Background(), dir)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	if len(found) == 0 {
		fmt.Fprintln(c.stdout, "Nothing to run found.")
		return 0
	}

	if !*add {
		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tNAME\tTYPE\tDIR")
		for _, cand := range found {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cand.Source, cand.Config.Name, cand.Config.Type, cand.Config.WorkingDir)
		}
		if err := tw.Flush(); err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	application, ok := newApp(c, quiet(c.settings))
	if !ok {
		return 1
	}
	defer shutdown(c, application)

	for _, cand := range found {
		added, err := application.Catalog().Add(cand.Config)
		if err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(c.stdout, "Added %s (%s)\n", added.Name, added.ID)
	}
	return 0
}

func cmdVersion(c *cli, _ []string) int {
	fmt.Fprintf(c.stdout, "RunDeck %s\n", version)
	fmt.Fprintf(c.stdout, "Commit: %s\n", commit)
	fmt.Fprintf(c.stdout, "Built: %s\n", date)
	return 0
}
