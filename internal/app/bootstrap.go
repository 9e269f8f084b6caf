package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dshills/rundeck/internal/backend"
	"github.com/dshills/rundeck/internal/bridge"
	"github.com/dshills/rundeck/internal/command"
	"github.com/dshills/rundeck/internal/config"
	"github.com/dshills/rundeck/internal/logging"
	"github.com/dshills/rundeck/internal/metrics"
	"github.com/dshills/rundeck/internal/output"
	"github.com/dshills/rundeck/internal/server"
	"github.com/dshills/rundeck/internal/store"
	"github.com/dshills/rundeck/internal/supervisor"
)

// bootstrapper initializes components and cleans up on failure.
type bootstrapper struct {
	app       *Application
	initOrder []string
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app, initOrder: make([]string, 0, 8)}
}

// bootstrap initializes all components in dependency order. On failure
// the components already initialized are released in reverse order.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"logger", b.initLogger},
		{"metrics", b.initMetrics},
		{"backend", b.initBackend},
		{"supervisor", b.initSupervisor},
		{"output", b.initOutput},
		{"bridge", b.initBridge},
		{"store", b.initStore},
		{"watcher", b.initWatcher},
		{"server", b.initServer},
	}
	for _, step := range steps {
		if err := step.init(); err != nil {
			b.cleanup()
			return &InitError{Component: step.name, Err: err}
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	return nil
}

func (b *bootstrapper) initLogger() error {
	if b.app.opts.Logger != nil {
		b.app.log = b.app.opts.Logger
		return nil
	}
	log, err := logging.New(logging.Config{
		Level:  b.app.settings.Log.Level,
		Format: b.app.settings.Log.Format,
	})
	if err != nil {
		return err
	}
	b.app.log = log
	b.app.ownsLogger = true
	return nil
}

func (b *bootstrapper) initMetrics() error {
	b.app.metrics = metrics.New()
	return nil
}

func (b *bootstrapper) initBackend() error {
	if b.app.opts.Backend != nil {
		b.app.backend = b.app.opts.Backend
		return nil
	}
	term := b.app.settings.Terminal
	b.app.backend = backend.NewPTYBackend(
		backend.WithSize(uint16(term.Cols), uint16(term.Rows)),
		backend.WithLogger(b.app.log),
	)
	return nil
}

func (b *bootstrapper) initSupervisor() error {
	s := b.app.settings
	b.app.builder = command.NewBuilder(command.PlatformFor(runtime.GOOS), s.Terminal.Shell)
	b.app.supervisor = supervisor.New(b.app.builder, b.app.backend,
		supervisor.WithSettleDelay(s.Process.SettleDelay.Std()),
		supervisor.WithExitConfirmTimeout(s.Process.ExitConfirmTimeout.Std()),
		supervisor.WithLogger(b.app.log),
		supervisor.WithMetrics(b.app.metrics),
	)
	return nil
}

func (b *bootstrapper) initOutput() error {
	s := b.app.settings
	b.app.output = output.NewPipeline(output.Options{
		Interval:  s.Output.FlushInterval.Std(),
		MaxChunks: s.Output.MaxChunks,
	}, s.Terminal.Scrollback, b.app.metrics)
	return nil
}

func (b *bootstrapper) initBridge() error {
	br := bridge.New(b.app.backend, b.app.output, b.app.supervisor, b.app.log,
		bridge.WithGenerations(b.app.supervisor),
		bridge.WithMetrics(b.app.metrics),
	)
	h, err := br.Start()
	if err != nil {
		return err
	}
	b.app.bridge = h
	return nil
}

func (b *bootstrapper) initStore() error {
	s := b.app.settings.Store
	path, err := storePath(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	switch s.Backend {
	case "file":
		b.app.store = store.NewFileStore(path)
	case "bolt":
		db, err := store.OpenBolt(path)
		if err != nil {
			return err
		}
		b.app.store = db
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, s.Backend)
	}

	b.app.catalog = store.NewCatalog(b.app.store, s.SaveDebounce.Std(), b.app.log)
	if err := b.app.catalog.Load(); err != nil {
		_ = b.app.store.Close()
		return err
	}
	b.app.log.Debug("store loaded", "backend", s.Backend, "path", path, "configs", len(b.app.catalog.Configs()))
	return nil
}

// initWatcher reloads the catalog on external edits to the store file.
// Bolt databases are locked while open, so only the file store is watched.
func (b *bootstrapper) initWatcher() error {
	s := b.app.settings.Store
	fs, ok := b.app.store.(*store.FileStore)
	if !s.Watch || !ok {
		return nil
	}
	w, err := store.Watch(b.app.catalog, fs.Path(), s.SaveDebounce.Std(), b.app.log)
	if err != nil {
		// Watching is a convenience; the catalog works without it.
		b.app.log.Warn("store watcher unavailable", "path", fs.Path(), "error", err)
		return nil
	}
	b.app.watcher = w
	return nil
}

func (b *bootstrapper) initServer() error {
	b.app.server = server.New(server.Deps{
		Catalog:   b.app.catalog,
		Processes: b.app.supervisor,
		Terminal:  b.app.backend,
		Output:    b.app.output,
		Metrics:   b.app.metrics,
		Logger:    b.app.log,
		Version:   b.app.opts.Version,
	})
	return nil
}

// storePath resolves the configured store location.
func storePath(s config.StoreSettings) (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	if s.Backend == "bolt" {
		dir, err := config.Dir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "rundeck.db"), nil
	}
	return store.DefaultFilePath()
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(ctx, b.initOrder[i])
	}
}

func (b *bootstrapper) cleanupComponent(ctx context.Context, component string) {
	switch component {
	case "watcher":
		if b.app.watcher != nil {
			_ = b.app.watcher.Close()
		}
	case "store":
		_ = b.app.catalog.Close()
	case "bridge":
		b.app.bridge.Close()
	case "output":
		b.app.output.Close()
	case "supervisor":
		_ = b.app.supervisor.Shutdown(ctx)
	case "backend":
		_ = b.app.backend.Close()
	case "logger":
		if b.app.ownsLogger {
			_ = b.app.log.Sync()
		}
	}
}
