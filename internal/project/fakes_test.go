package project

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/integration/host"
	"github.com/dshills/piotask/internal/pio"
	"github.com/dshills/piotask/internal/serial"
	"github.com/dshills/piotask/internal/state"
	"github.com/dshills/piotask/internal/task"
)

type fakeObserver struct {
	mu       sync.Mutex
	envs     []string
	active   string
	loaded   map[string][]*task.ProjectTask
	envCalls int
	loads    int
	resets   int
	err      error

	// When release is set, GetProjectEnvs signals entered and waits on it.
	entered chan struct{}
	release chan struct{}
}

func newFakeObserver(envs ...string) *fakeObserver {
	o := &fakeObserver{envs: envs, loaded: make(map[string][]*task.ProjectTask)}
	if len(envs) > 0 {
		o.active = envs[0]
	}
	return o
}

func (o *fakeObserver) GetProjectEnvs(context.Context) ([]string, error) {
	o.mu.Lock()
	entered, release := o.entered, o.release
	o.mu.Unlock()
	if release != nil {
		entered <- struct{}{}
		<-release
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.envCalls++
	if o.err != nil {
		return nil, o.err
	}
	return slices.Clone(o.envs), nil
}

func (o *fakeObserver) GetDefaultTasks() []*task.ProjectTask {
	return pio.DefaultTasks()
}

func (o *fakeObserver) GetLoadedEnvTasks(env string) ([]*task.ProjectTask, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tasks, ok := o.loaded[env]
	return tasks, ok
}

func (o *fakeObserver) LoadEnvTasks(_ context.Context, env string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads++
	o.loaded[env] = pio.EnvTasks(env, nil)
	return nil
}

func (o *fakeObserver) GetActiveEnvName(context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active, nil
}

func (o *fakeObserver) SetActiveEnv(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if name == "" && len(o.envs) > 0 {
		name = o.envs[0]
	}
	o.active = name
}

func (o *fakeObserver) ResetCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets++
	clear(o.loaded)
}

// blockEnvs makes the next GetProjectEnvs calls wait until the returned
// function is called.
func (o *fakeObserver) blockEnvs() (entered <-chan struct{}, unblock func()) {
	in := make(chan struct{}, 1)
	release := make(chan struct{})
	o.mu.Lock()
	o.entered, o.release = in, release
	o.mu.Unlock()
	return in, func() {
		o.mu.Lock()
		o.entered, o.release = nil, nil
		o.mu.Unlock()
		close(release)
	}
}

func (o *fakeObserver) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *fakeObserver) calls() (envCalls, loads, resets int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.envCalls, o.loads, o.resets
}

type fakeExecution struct {
	id   string
	task *task.ProjectTask

	mu         sync.Mutex
	terminated bool
}

func (e *fakeExecution) ID() string { return e.id }

func (e *fakeExecution) ProviderType() string { return task.ProviderType }

func (e *fakeExecution) Task() *task.ProjectTask { return e.task }

func (e *fakeExecution) Terminate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = true
	return nil
}

func (e *fakeExecution) wasTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// fakeHost resolves keys through the registered provider like the real
// host but never starts processes.
type fakeHost struct {
	mu         sync.Mutex
	provider   host.Provider
	providers  int
	running    []task.Execution
	dispatched []*task.ProjectTask
	bus        *integration.EventBus
}

func newFakeHost() *fakeHost {
	return &fakeHost{bus: integration.NewEventBus()}
}

func (h *fakeHost) RegisterProvider(_ string, p host.Provider) integration.Disposable {
	h.mu.Lock()
	h.provider = p
	h.providers++
	h.mu.Unlock()
	return integration.DisposeFunc(func() {
		h.mu.Lock()
		h.providers--
		h.mu.Unlock()
	})
}

func (h *fakeHost) Dispatch(ctx context.Context, key string) error {
	h.mu.Lock()
	p := h.provider
	live := h.providers
	h.mu.Unlock()
	if p == nil || live == 0 {
		return host.ErrProviderNotFound
	}

	_, id, err := task.ParseKey(key)
	if err != nil {
		return err
	}
	tasks, err := p.ProvideTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.ID == id {
			h.mu.Lock()
			h.dispatched = append(h.dispatched, t)
			h.mu.Unlock()
			return nil
		}
	}
	return host.ErrTaskNotFound
}

func (h *fakeHost) Executions() []task.Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.running)
}

func (h *fakeHost) OnProcessEnded(fn func(task.ProcessEnded)) integration.Disposable {
	return h.bus.Subscribe(integration.EventTaskEnded, func(ev integration.Event) {
		fn(ev.Payload.(task.ProcessEnded))
	})
}

func (h *fakeHost) end(t *task.ProjectTask, code int) {
	h.bus.Publish(integration.EventTaskEnded, task.ProcessEnded{
		Execution: &fakeExecution{id: "ended", task: t},
		ExitCode:  code,
	})
}

func (h *fakeHost) dispatchedTasks() []*task.ProjectTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.dispatched)
}

func (h *fakeHost) liveProviders() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.providers
}

type fakeStatus struct {
	mu       sync.Mutex
	text     string
	disposed bool
}

func (s *fakeStatus) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

func (s *fakeStatus) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

type fakeWorkbench struct {
	mu       sync.Mutex
	views    int
	sessions []uint64
	statuses []*fakeStatus
	context  map[string]any
	notes    []string
}

func newFakeWorkbench() *fakeWorkbench {
	return &fakeWorkbench{context: make(map[string]any)}
}

func (w *fakeWorkbench) ShowTasks(session uint64, _ []*task.ProjectTask, _ bool) integration.Disposable {
	w.mu.Lock()
	w.views++
	w.sessions = append(w.sessions, session)
	w.mu.Unlock()
	return integration.DisposeFunc(func() {
		w.mu.Lock()
		w.views--
		w.mu.Unlock()
	})
}

func (w *fakeWorkbench) CreateStatusItem() StatusItem {
	s := &fakeStatus{}
	w.mu.Lock()
	w.statuses = append(w.statuses, s)
	w.mu.Unlock()
	return s
}

func (w *fakeWorkbench) SetContext(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.context[key] = value
}

func (w *fakeWorkbench) Notify(_, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes = append(w.notes, message)
}

func (w *fakeWorkbench) liveStatuses() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, s := range w.statuses {
		if !s.disposed {
			n++
		}
	}
	return n
}

type settings struct {
	autoClose bool
	delay     time.Duration
}

func (s settings) AutoCloseSerialMonitor() bool { return s.autoClose }

func (s settings) ReopenSerialMonitorDelay() time.Duration { return s.delay }

type fixture struct {
	obs   *fakeObserver
	host  *fakeHost
	wb    *fakeWorkbench
	store *state.MemoryStore
	sel   *serial.Selector
	m     *Manager
}

func newFixture(envs []string, opts ...Option) *fixture {
	f := &fixture{
		obs:   newFakeObserver(envs...),
		host:  newFakeHost(),
		wb:    newFakeWorkbench(),
		store: state.NewMemoryStore(),
	}
	f.sel = serial.New(f.store, "/proj")
	opts = append([]Option{WithWorkbench(f.wb), WithRefreshDelay(30 * time.Millisecond)}, opts...)
	f.m = NewManager("/proj", f.obs, f.host, f.sel, settings{autoClose: true}, opts...)
	return f
}
