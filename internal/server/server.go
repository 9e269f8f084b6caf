// Package server exposes the process supervisor over HTTP.
//
// The JSON API manages run configurations and process lifecycles. Live
// output is streamed over a WebSocket per process, and Prometheus metrics
// are served from /metrics.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dshills/rundeck/internal/backend"
	"github.com/dshills/rundeck/internal/event"
	"github.com/dshills/rundeck/internal/logging"
	"github.com/dshills/rundeck/internal/metrics"
	"github.com/dshills/rundeck/internal/output"
	"github.com/dshills/rundeck/internal/runconfig"
	"github.com/dshills/rundeck/internal/store"
	"github.com/dshills/rundeck/internal/supervisor"
)

// maxInputSize bounds a single input request body.
const maxInputSize = 64 << 10

// Catalog is the configuration store the server edits.
type Catalog interface {
	Configs() []runconfig.RunConfig
	Get(id string) (runconfig.RunConfig, error)
	Add(cfg runconfig.RunConfig) (runconfig.RunConfig, error)
	Update(cfg runconfig.RunConfig) error
	Delete(id string) error
	Duplicate(id string) (runconfig.RunConfig, error)
}

// Processes controls process lifecycles.
type Processes interface {
	Start(ctx context.Context, cfg runconfig.RunConfig) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, cfg runconfig.RunConfig) error
	State(id string) supervisor.ProcessState
	States() map[string]supervisor.ProcessState
}

// Terminal forwards input and size changes to running processes.
type Terminal interface {
	Resize(id string, cols, rows uint16) error
	Write(id string, data []byte) error
}

// Output provides scrollback and live flushes.
type Output interface {
	View(id string) output.Frame
	Clear(id string)
	Remove(id string)
	Subscribe(fn func(output.Flush)) event.Subscription
}

// Deps are the components the server drives.
type Deps struct {
	Catalog   Catalog
	Processes Processes
	Terminal  Terminal
	Output    Output
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
	Version   string
}

// Server is the HTTP control surface.
type Server struct {
	echo     *echo.Echo
	deps     Deps
	log      *logging.Logger
	upgrader websocket.Upgrader
}

// New creates a server and registers its routes.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		deps: deps,
		log:  logging.OrNop(deps.Logger).WithComponent("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API binds to loopback by default.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	api := e.Group("/api")
	api.GET("/configs", s.handleListConfigs)
	api.POST("/configs", s.handleCreateConfig)
	api.GET("/configs/:id", s.handleGetConfig)
	api.PUT("/configs/:id", s.handleUpdateConfig)
	api.DELETE("/configs/:id", s.handleDeleteConfig)
	api.POST("/configs/:id/duplicate", s.handleDuplicateConfig)

	api.GET("/processes", s.handleListProcesses)
	api.GET("/processes/:id", s.handleGetProcess)
	api.POST("/processes/:id/start", s.handleStart)
	api.POST("/processes/:id/stop", s.handleStop)
	api.POST("/processes/:id/restart", s.handleRestart)
	api.POST("/processes/:id/clear", s.handleClear)
	api.POST("/processes/:id/resize", s.handleResize)
	api.POST("/processes/:id/input", s.handleInput)
	api.GET("/processes/:id/output", s.handleOutput)

	e.GET("/ws/processes/:id", s.handleStream)

	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", "addr", addr)
	return s.ignoreClosed(s.echo.Start(addr))
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.echo.Listener = l
	s.log.Info("listening", "addr", l.Addr().String())
	return s.ignoreClosed(s.echo.Start(""))
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ProcessView is a configuration joined with its process state.
type ProcessView struct {
	ID    string                  `json:"id"`
	Name  string                  `json:"name"`
	Type  runconfig.Type          `json:"type"`
	State supervisor.ProcessState `json:"state"`
}

// ResizeRequest is the body of a resize call.
type ResizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type errorResponse struct {
	Error string                   `json:"error"`
	State *supervisor.ProcessState `json:"state,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	running := 0
	for _, st := range s.deps.Processes.States() {
		if st.Status.Live() {
			running++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
		"running": running,
	})
}

func (s *Server) handleListConfigs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Catalog.Configs())
}

func (s *Server) handleGetConfig(c echo.Context) error {
	cfg, err := s.deps.Catalog.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleCreateConfig(c echo.Context) error {
	var cfg runconfig.RunConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := s.deps.Catalog.Add(cfg)
	if err != nil {
		return err
	}
	s.log.Info("config created", "id", created.ID, "name", created.Name)
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateConfig(c echo.Context) error {
	var cfg runconfig.RunConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cfg.ID = c.Param("id")
	if err := s.deps.Catalog.Update(cfg); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfig(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.deps.Catalog.Get(id); err != nil {
		return err
	}
	if err := s.deps.Processes.Stop(c.Request().Context(), id); err != nil {
		return err
	}
	if err := s.deps.Catalog.Delete(id); err != nil {
		return err
	}
	s.deps.Output.Remove(id)
	s.log.Info("config deleted", "id", id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDuplicateConfig(c echo.Context) error {
	dup, err := s.deps.Catalog.Duplicate(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, dup)
}

func (s *Server) handleListProcesses(c echo.Context) error {
	configs := s.deps.Catalog.Configs()
	views := make([]ProcessView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, s.view(cfg))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetProcess(c echo.Context) error {
	cfg, err := s.deps.Catalog.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(cfg))
}

func (s *Server) handleStart(c echo.Context) error {
	return s.lifecycle(c, s.deps.Processes.Start)
}

func (s *Server) handleRestart(c echo.Context) error {
	return s.lifecycle(c, s.deps.Processes.Restart)
}

func (s *Server) lifecycle(c echo.Context, op func(context.Context, runconfig.RunConfig) error) error {
	cfg, err := s.deps.Catalog.Get(c.Param("id"))
	if err != nil {
		return err
	}
	// Lifecycle calls outlive the request; a dropped client must not abort
	// a restart half way.
	if err := op(context.WithoutCancel(c.Request().Context()), cfg); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(cfg))
}

func (s *Server) handleStop(c echo.Context) error {
	cfg, err := s.deps.Catalog.Get(c.Param("id"))
	if err != nil {
		return err
	}
	if err := s.deps.Processes.Stop(context.WithoutCancel(c.Request().Context()), cfg.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(cfg))
}

func (s *Server) handleClear(c echo.Context) error {
	s.deps.Output.Clear(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResize(c echo.Context) error {
	var req ResizeRequest
	if err := c.Bind(&req); err != nil || req.Cols == 0 || req.Rows == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "cols and rows must be positive")
	}
	id := c.Param("id")
	// Resizing is best effort: the process may have exited meanwhile.
	if err := s.deps.Terminal.Resize(id, req.Cols, req.Rows); err != nil {
		s.log.Debug("resize skipped", "id", id, "error", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleInput(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInputSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(data) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	if err := s.deps.Terminal.Write(c.Param("id"), data); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleOutput(c echo.Context) error {
	data := s.deps.Output.View(c.Param("id")).Data
	if c.QueryParam("plain") != "" && c.QueryParam("plain") != "0" {
		data = output.StripANSIBytes(data)
	}
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", data)
}

func (s *Server) view(cfg runconfig.RunConfig) ProcessView {
	return ProcessView{
		ID:    cfg.ID,
		Name:  cfg.Name,
		Type:  cfg.Type,
		State: s.deps.Processes.State(cfg.ID),
	}
}

// handleError maps domain errors to status codes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var he *echo.HTTPError
	var spawnErr *supervisor.SpawnError
	switch {
	case errors.As(err, &he):
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			resp.Error = msg
		} else {
			resp.Error = http.StatusText(he.Code)
		}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, runconfig.ErrInvalidConfig),
		errors.Is(err, runconfig.ErrUnknownType),
		errors.Is(err, store.ErrFolderMissing),
		errors.Is(err, store.ErrInvalidOrder),
		errors.Is(err, supervisor.ErrEmptyID):
		status = http.StatusBadRequest
	case errors.Is(err, supervisor.ErrShutdown):
		status = http.StatusServiceUnavailable
	case errors.As(err, &spawnErr):
		status = http.StatusBadGateway
		st := s.deps.Processes.State(spawnErr.ID)
		resp.State = &st
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		s.log.Warn("write error response", "error", err)
	}
}

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second
