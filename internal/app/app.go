// Package app wires the rundeck components together and manages their
// lifecycle.
//
// New builds every component from Settings in dependency order. Run
// serves the HTTP control surface until its context is cancelled, and
// Shutdown tears the components down in reverse order.
package app

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

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

// shutdownTimeout bounds draining HTTP connections.
const shutdownTimeout = 5 * time.Second

// Options configures the application.
type Options struct {
	// Settings are the resolved settings. The zero value is replaced by
	// config.Default().
	Settings config.Settings

	// Backend overrides the pseudo-terminal backend.
	Backend backend.Backend

	// Logger overrides the logger built from Settings.Log.
	Logger *logging.Logger

	// Version is reported by the health endpoint.
	Version string
}

// Application owns every long-lived component.
type Application struct {
	opts     Options
	settings config.Settings

	log        *logging.Logger
	ownsLogger bool
	metrics    *metrics.Metrics
	builder    command.Builder
	backend    backend.Backend
	supervisor *supervisor.Supervisor
	output     *output.Pipeline
	bridge     *bridge.Handle
	store      store.Store
	catalog    *store.Catalog
	watcher    *store.Watcher
	server     *server.Server

	running      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an application and initializes its components.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts, settings: opts.Settings}
	if app.settings == (config.Settings{}) {
		app.settings = config.Default()
	}
	if err := app.settings.Validate(); err != nil {
		return nil, &InitError{Component: "settings", Err: err}
	}

	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Settings returns the settings the application was built with.
func (app *Application) Settings() config.Settings {
	return app.settings
}

// Logger returns the application logger.
func (app *Application) Logger() *logging.Logger {
	return app.log
}

// Metrics returns the metrics registry.
func (app *Application) Metrics() *metrics.Metrics {
	return app.metrics
}

// Builder returns the command builder.
func (app *Application) Builder() command.Builder {
	return app.builder
}

// Backend returns the process backend.
func (app *Application) Backend() backend.Backend {
	return app.backend
}

// Supervisor returns the process supervisor.
func (app *Application) Supervisor() *supervisor.Supervisor {
	return app.supervisor
}

// Output returns the output pipeline.
func (app *Application) Output() *output.Pipeline {
	return app.output
}

// Catalog returns the configuration catalog.
func (app *Application) Catalog() *store.Catalog {
	return app.catalog
}

// Server returns the HTTP control surface.
func (app *Application) Server() *server.Server {
	return app.server
}

// Run serves the control surface on l until ctx is cancelled. When l is
// nil Run listens on the configured address.
func (app *Application) Run(ctx context.Context, l net.Listener) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if l != nil {
			return app.server.Serve(l)
		}
		return app.server.Start(app.settings.Server.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return app.server.Shutdown(sctx)
	})

	app.log.Info("rundeck running", "configs", len(app.catalog.Configs()))
	return g.Wait()
}

// Shutdown stops every process and releases all resources. Edits still
// waiting to be saved are written. Shutdown is idempotent.
func (app *Application) Shutdown(ctx context.Context) error {
	app.shutdownOnce.Do(func() {
		app.shutdownErr = app.shutdown(ctx)
	})
	return app.shutdownErr
}

func (app *Application) shutdown(ctx context.Context) error {
	var err error
	if app.watcher != nil {
		err = multierr.Append(err, app.watcher.Close())
	}
	if app.server != nil {
		err = multierr.Append(err, app.server.Shutdown(ctx))
	}
	err = multierr.Append(err, app.supervisor.Shutdown(ctx))
	app.bridge.Close()
	app.output.Close()
	err = multierr.Append(err, app.backend.Close())
	err = multierr.Append(err, app.catalog.Close())

	if err != nil {
		app.log.Error("shutdown incomplete", "error", err)
	} else {
		app.log.Info("rundeck stopped")
	}
	if app.ownsLogger {
		_ = app.log.Sync()
	}
	return err
}
