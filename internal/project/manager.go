package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/integration/host"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/monitor"
	"github.com/dshills/piotask/internal/observability"
	"github.com/dshills/piotask/internal/pio"
	"github.com/dshills/piotask/internal/serial"
	"github.com/dshills/piotask/internal/task"
)

// DefaultRefreshDelay is the quiet period before a requested refresh runs.
const DefaultRefreshDelay = 500 * time.Millisecond

// Observer discovers a project's environments and tasks.
type Observer interface {
	GetProjectEnvs(ctx context.Context) ([]string, error)
	GetDefaultTasks() []*task.ProjectTask
	GetLoadedEnvTasks(env string) ([]*task.ProjectTask, bool)
	LoadEnvTasks(ctx context.Context, env string) error
	GetActiveEnvName(ctx context.Context) (string, error)
	SetActiveEnv(name string)
	ResetCache()
}

// Host is the execution host the manager registers with and dispatches to.
type Host interface {
	RegisterProvider(providerType string, p host.Provider) integration.Disposable
	Dispatch(ctx context.Context, key string) error
	Executions() []task.Execution
	OnProcessEnded(fn func(task.ProcessEnded)) integration.Disposable
}

// Manager owns the task registry of one project and runs its tasks.
//
// Manager is safe for concurrent use. Refreshes are serialized.
type Manager struct {
	dir        string
	observer   Observer
	host       Host
	selector   *serial.Selector
	controller *monitor.Controller
	workbench  Workbench
	log        *slog.Logger
	metrics    *observability.Metrics
	bus        *integration.EventBus

	ctx    context.Context
	cancel context.CancelFunc

	refreshDelay time.Duration
	debouncer    *integration.Debouncer
	forceNext    atomic.Bool
	refreshMu    sync.Mutex

	mu       sync.RWMutex
	session  uint64
	tasks    []*task.ProjectTask
	envs     []string
	lastErr  error
	expanded map[string]bool // envs loaded through the manager, reloaded after a forced refresh
	regs     integration.Disposables
	disposed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager and its controller.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithWorkbench sets the UI registrations target.
func WithWorkbench(w Workbench) Option {
	return func(m *Manager) {
		if w != nil {
			m.workbench = w
		}
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithEventBus publishes dispatch, refresh and monitor events on bus.
func WithEventBus(bus *integration.EventBus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithRefreshDelay sets the debounce window of RequestRefresh.
func WithRefreshDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshDelay = d
		}
	}
}

// NewManager creates a manager for the project in dir. Nothing is
// registered until the first Refresh.
func NewManager(dir string, observer Observer, h Host, selector *serial.Selector, settings monitor.Settings, opts ...Option) *Manager {
	m := &Manager{
		dir:          dir,
		observer:     observer,
		host:         h,
		selector:     selector,
		workbench:    NopWorkbench{},
		metrics:      observability.NewMetrics(nil),
		refreshDelay: DefaultRefreshDelay,
		expanded:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}

	base := m.log
	m.log = logging.Component(base, "project")
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.controller = monitor.New(resumeHost{m}, settings,
		monitor.WithLogger(base),
		monitor.WithMetrics(m.metrics),
		monitor.WithEventBus(m.bus),
	)
	m.debouncer = integration.NewDebouncer(m.refreshDelay, m.debouncedRefresh)
	return m
}

// Dir returns the project directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Controller returns the monitor controller.
func (m *Manager) Controller() *monitor.Controller {
	return m.controller
}

// Selector returns the serial port selector.
func (m *Manager) Selector() *serial.Selector {
	return m.selector
}

// SessionToken returns the current session token. It changes on every
// forced refresh.
func (m *Manager) SessionToken() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Tasks returns the registry built by the last successful refresh.
func (m *Manager) Tasks() []*task.ProjectTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tasks)
}

// Envs returns the environments seen by the last successful refresh.
func (m *Manager) Envs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.envs)
}

// LastRefreshError returns the *RefreshError of the last refresh, or nil
// if it succeeded.
func (m *Manager) LastRefreshError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// RequestRefresh schedules a refresh after the quiet period. Requests
// within the period collapse into one refresh.
func (m *Manager) RequestRefresh() {
	m.debouncer.Trigger()
}

// RequestForceRefresh is RequestRefresh with cache invalidation. A forced
// request stays forced when later plain requests join the same window.
func (m *Manager) RequestForceRefresh() {
	m.forceNext.Store(true)
	m.debouncer.Trigger()
}

func (m *Manager) debouncedRefresh() {
	force := m.forceNext.Swap(false)
	if err := m.Refresh(m.ctx, force); err != nil && !errors.Is(err, ErrManagerDisposed) {
		m.log.Warn("scheduled refresh failed", "error", err)
	}
}

// Refresh rebuilds the task registry. Previous registrations are disposed
// first, whatever the outcome. With force the discovery cache is reset and
// a new session token is issued, and environments loaded earlier are
// loaded again.
//
// A discovery failure is returned as a *RefreshError and kept for
// LastRefreshError. The process-ended subscription and the status item are
// registered before discovery, so monitor resumption keeps working while
// the registry is unavailable.
func (m *Manager) Refresh(ctx context.Context, force bool) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrManagerDisposed
	}
	if force {
		m.session++
	}
	session := m.session
	m.mu.Unlock()

	m.regs.DisposeAll()
	if force {
		m.observer.ResetCache()
	}

	m.regs.Add(m.host.OnProcessEnded(func(ev task.ProcessEnded) {
		m.controller.ResumeSuspended(ev)
	}))
	status := m.workbench.CreateStatusItem()
	m.selector.SetStatusItem(status)
	m.regs.Add(integration.DisposeFunc(func() {
		m.selector.SetStatusItem(nil)
		status.Dispose()
	}))

	m.log.Debug("refreshing tasks", "session", session, "force", force)
	envs, tasks, err := m.buildRegistry(ctx, force)
	if err != nil {
		rerr := &RefreshError{Session: session, Err: err}
		m.mu.Lock()
		m.lastErr = rerr
		m.mu.Unlock()

		m.metrics.Refreshes.WithLabelValues("error").Inc()
		m.log.Error("refresh failed", "session", session, "error", err)
		m.publish(integration.EventRefreshFailed, rerr.Error())
		return rerr
	}

	multiEnv := len(envs) > 1
	m.regs.Add(
		m.host.RegisterProvider(task.ProviderType, host.ProviderFunc(m.provideTasks)),
		m.workbench.ShowTasks(session, tasks, multiEnv),
	)
	m.workbench.SetContext(ContextMultipleEnvs, multiEnv)

	m.mu.Lock()
	m.tasks = tasks
	m.envs = envs
	m.lastErr = nil
	m.mu.Unlock()

	m.metrics.Refreshes.WithLabelValues("ok").Inc()
	m.log.Info("tasks refreshed", "session", session, "tasks", len(tasks), "envs", len(envs))
	m.publish(integration.EventRefreshCompleted, session)

	if m.controller.RetryResume() {
		m.log.Info("retrying monitor resume", "session", session)
	}
	return nil
}

// buildRegistry returns the project-wide tasks followed by the loaded
// tasks of each environment, in environment order. With reload the
// expanded environments are loaded again first.
func (m *Manager) buildRegistry(ctx context.Context, reload bool) ([]string, []*task.ProjectTask, error) {
	envs, err := m.observer.GetProjectEnvs(ctx)
	if err != nil {
		return nil, nil, err
	}
	if reload {
		m.reloadExpanded(ctx, envs)
	}

	tasks := slices.Clone(m.observer.GetDefaultTasks())
	for _, env := range envs {
		if loaded, ok := m.observer.GetLoadedEnvTasks(env); ok {
			tasks = append(tasks, loaded...)
		}
	}
	return envs, tasks, nil
}

// provideTasks is the host provider: the registry with the current port
// override applied.
func (m *Manager) provideTasks(context.Context) ([]*task.ProjectTask, error) {
	port := m.selector.Port()
	tasks := m.Tasks()
	for i, t := range tasks {
		tasks[i] = pio.ResolveTask(t, port)
	}
	return tasks, nil
}

func (m *Manager) reloadExpanded(ctx context.Context, envs []string) {
	m.mu.RLock()
	var reload []string
	for _, env := range envs {
		if m.expanded[env] {
			reload = append(reload, env)
		}
	}
	m.mu.RUnlock()

	for _, env := range reload {
		if err := m.observer.LoadEnvTasks(ctx, env); err != nil {
			m.log.Warn("reloading environment tasks failed", "env", env, "error", err)
		}
	}
}

// LoadEnvTasks loads the tasks of env and requests a refresh. It does
// nothing when they are already loaded. The environment stays loaded
// across forced refreshes.
func (m *Manager) LoadEnvTasks(ctx context.Context, env string) error {
	if m.isDisposed() {
		return ErrManagerDisposed
	}
	if _, ok := m.observer.GetLoadedEnvTasks(env); ok {
		m.markExpanded(env)
		return nil
	}
	if err := m.checkEnv(ctx, env); err != nil {
		return err
	}
	if err := m.observer.LoadEnvTasks(ctx, env); err != nil {
		return fmt.Errorf("loading tasks of %s: %w", env, err)
	}
	m.markExpanded(env)
	m.RequestRefresh()
	return nil
}

func (m *Manager) checkEnv(ctx context.Context, env string) error {
	envs, err := m.observer.GetProjectEnvs(ctx)
	if err != nil {
		return fmt.Errorf("listing environments: %w", err)
	}
	if !slices.Contains(envs, env) {
		return fmt.Errorf("%w: %q", ErrUnknownEnv, env)
	}
	return nil
}

func (m *Manager) markExpanded(env string) {
	m.mu.Lock()
	m.expanded[env] = true
	m.mu.Unlock()
}

// ActiveEnv returns the name of the active environment.
func (m *Manager) ActiveEnv(ctx context.Context) (string, error) {
	return m.observer.GetActiveEnvName(ctx)
}

// SetActiveEnv selects the environment commands run in and requests a
// refresh. An empty name restores the default choice.
func (m *Manager) SetActiveEnv(ctx context.Context, env string) error {
	if m.isDisposed() {
		return ErrManagerDisposed
	}
	if env != "" {
		if err := m.checkEnv(ctx, env); err != nil {
			return err
		}
	}
	m.observer.SetActiveEnv(env)
	m.log.Info("active environment selected", "env", env)
	m.RequestRefresh()
	return nil
}

// RunTask makes t the active task, closes conflicting serial monitors and
// dispatches t to the host by key. The host is called exactly once.
func (m *Manager) RunTask(ctx context.Context, t *task.ProjectTask) error {
	if m.isDisposed() {
		return ErrManagerDisposed
	}

	m.controller.Begin(pio.ResolveTask(t, m.selector.Port()))
	m.controller.SuspendConflicts()

	key := t.Key()
	if err := m.host.Dispatch(ctx, key); err != nil {
		m.metrics.TaskDispatches.WithLabelValues("error").Inc()
		m.log.Error("dispatch failed", "key", key, "error", err)
		return fmt.Errorf("running %q: %w", key, err)
	}

	m.metrics.TaskDispatches.WithLabelValues("ok").Inc()
	m.log.Info("task dispatched", "key", key)
	m.publish(integration.EventTaskDispatched, key)
	return nil
}

// RunTaskByID runs the registered task with the given ID.
func (m *Manager) RunTaskByID(ctx context.Context, id string) error {
	for _, t := range m.Tasks() {
		if t.ID == id {
			return m.RunTask(ctx, t)
		}
	}
	return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
}

func (m *Manager) isDisposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disposed
}

// Dispose unregisters everything and cancels pending refreshes and
// resumes. Running executions are left alone.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()

	m.debouncer.Dispose()
	m.cancel()

	m.refreshMu.Lock()
	m.regs.DisposeAll()
	m.refreshMu.Unlock()

	m.controller.Dispose()
}

// resumeHost is the host as seen by the monitor controller. A resume
// dispatch waits for a refresh in progress, which has the provider
// unregistered.
type resumeHost struct {
	m *Manager
}

func (h resumeHost) Executions() []task.Execution {
	return h.m.host.Executions()
}

func (h resumeHost) Dispatch(ctx context.Context, key string) error {
	h.m.refreshMu.Lock()
	defer h.m.refreshMu.Unlock()
	return h.m.host.Dispatch(ctx, key)
}

func (m *Manager) publish(eventType string, payload any) {
	if m.bus != nil {
		m.bus.Publish(eventType, payload)
	}
}
