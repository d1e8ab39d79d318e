package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/monitor"
	"github.com/dshills/piotask/internal/observability"
	"github.com/dshills/piotask/internal/project"
	"github.com/dshills/piotask/internal/serial"
	"github.com/dshills/piotask/internal/task"
)

// Manager is the part of the project manager the bridge drives.
type Manager interface {
	Tasks() []*task.ProjectTask
	Envs() []string
	SessionToken() uint64
	LastRefreshError() error
	Refresh(ctx context.Context, force bool) error
	RunTaskByID(ctx context.Context, id string) error
	ExecuteCommand(ctx context.Context, name string) error
	LoadEnvTasks(ctx context.Context, env string) error
	ActiveEnv(ctx context.Context) (string, error)
	SetActiveEnv(ctx context.Context, env string) error
	Selector() *serial.Selector
	Controller() *monitor.Controller
}

// Server is the HTTP bridge of one project.
type Server struct {
	manager   Manager
	workbench *Workbench
	bus       *integration.EventBus
	ports     serial.PortLister
	gatherer  prometheus.Gatherer
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithPortLister enables GET /v1/ports.
func WithPortLister(l serial.PortLister) Option {
	return func(s *Server) {
		s.ports = l
	}
}

// WithGatherer sets the registry served on /metrics. Defaults to the
// Prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// New creates a bridge for m. wb must be the workbench m registers into.
// Events published on bus are streamed on /v1/events; bus may be nil.
func New(m Manager, wb *Workbench, bus *integration.EventBus, opts ...Option) *Server {
	s := &Server{
		manager:   m,
		workbench: wb,
		bus:       bus,
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component(s.log, "server")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     sameOrigin,
	}
	return s
}

// sameOrigin accepts clients that send no Origin and browsers on the
// bridge's own host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", observability.Handler(s.gatherer))

	r.Get("/v1/tasks", s.handleListTasks)
	r.Post("/v1/tasks/run", s.handleRunTask)
	r.Post("/v1/commands/{name}", s.handleCommand)
	r.Post("/v1/refresh", s.handleRefresh)
	r.Get("/v1/env", s.handleGetEnv)
	r.Put("/v1/env", s.handleSetEnv)
	r.Post("/v1/envs/{name}/load", s.handleLoadEnv)
	r.Get("/v1/monitor", s.handleMonitorState)
	r.Get("/v1/port", s.handleGetPort)
	r.Put("/v1/port", s.handleSetPort)
	r.Get("/v1/ports", s.handleListPorts)
	r.Get("/v1/events", s.handleEvents)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, timeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("graceful shutdown failed", "error", err)
		_ = srv.Close()
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"session": s.manager.SessionToken(),
	}
	if err := s.manager.LastRefreshError(); err != nil {
		resp["status"] = "degraded"
		resp["refresh_error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

type tasksResponse struct {
	View
	Envs  []string `json:"envs"`
	Shown bool     `json:"shown"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	view, shown := s.workbench.Current()
	if view.Tasks == nil {
		view.Tasks = []*task.ProjectTask{}
	}
	respondJSON(w, http.StatusOK, tasksResponse{
		View:  view,
		Envs:  s.manager.Envs(),
		Shown: shown,
	})
}

type runRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		respondError(w, http.StatusBadRequest, "missing_task_id", "field id is required")
		return
	}

	if err := s.manager.RunTaskByID(r.Context(), req.ID); err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"key": task.MakeKey(task.ProviderType, req.ID),
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.manager.ExecuteCommand(r.Context(), name); err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"command": name})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_force", "force must be a boolean")
			return
		}
		force = b
	}

	if err := s.manager.Refresh(r.Context(), force); err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session": s.manager.SessionToken(),
		"tasks":   len(s.manager.Tasks()),
	})
}

type envBody struct {
	Env  string   `json:"env"`
	Envs []string `json:"envs,omitempty"`
}

func (s *Server) handleGetEnv(w http.ResponseWriter, r *http.Request) {
	env, err := s.manager.ActiveEnv(r.Context())
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, envBody{Env: env, Envs: s.manager.Envs()})
}

// handleSetEnv selects the environment commands run in. An empty env
// restores the default choice.
func (s *Server) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	var req envBody
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.manager.SetActiveEnv(r.Context(), strings.TrimSpace(req.Env)); err != nil {
		s.respondManagerError(w, err)
		return
	}
	s.handleGetEnv(w, r)
}

func (s *Server) handleLoadEnv(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.manager.LoadEnvTasks(r.Context(), name); err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"env": name})
}

func (s *Server) handleMonitorState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.manager.Controller().State())
}

type portBody struct {
	Port  string `json:"port"`
	Label string `json:"label"`
}

func (s *Server) handleGetPort(w http.ResponseWriter, _ *http.Request) {
	sel := s.manager.Selector()
	respondJSON(w, http.StatusOK, portBody{Port: sel.Port(), Label: sel.Label()})
}

func (s *Server) handleSetPort(w http.ResponseWriter, r *http.Request) {
	var req portBody
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sel := s.manager.Selector()
	if err := sel.SwitchPort(strings.TrimSpace(req.Port)); err != nil {
		s.log.Error("switching port failed", "error", err)
		respondError(w, http.StatusInternalServerError, "state_write_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, portBody{Port: sel.Port(), Label: sel.Label()})
}

func (s *Server) handleListPorts(w http.ResponseWriter, r *http.Request) {
	if s.ports == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "port listing not configured")
		return
	}
	ports, err := s.ports.ListPorts(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "port_listing_failed", err.Error())
		return
	}
	if ports == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	respondJSON(w, http.StatusOK, ports)
}

func (s *Server) respondManagerError(w http.ResponseWriter, err error) {
	var rerr *project.RefreshError
	switch {
	case errors.Is(err, project.ErrNoMatchingTask):
		respondError(w, http.StatusNotFound, "no_matching_task", err.Error())
	case errors.Is(err, project.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
	case errors.Is(err, project.ErrUnknownCommand):
		respondError(w, http.StatusNotFound, "unknown_command", err.Error())
	case errors.Is(err, project.ErrUnknownEnv):
		respondError(w, http.StatusNotFound, "unknown_env", err.Error())
	case errors.Is(err, project.ErrManagerDisposed):
		respondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.As(err, &rerr):
		respondError(w, http.StatusBadGateway, "refresh_failed", err.Error())
	default:
		s.log.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
