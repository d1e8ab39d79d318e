package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/integration/process"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/task"
)

// DefaultShutdownTimeout is how long Close waits before killing executions.
const DefaultShutdownTimeout = 5 * time.Second

// Provider supplies the tasks a provider type can execute.
type Provider interface {
	ProvideTasks(ctx context.Context) ([]*task.ProjectTask, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) ([]*task.ProjectTask, error)

// ProvideTasks implements Provider.
func (f ProviderFunc) ProvideTasks(ctx context.Context) ([]*task.ProjectTask, error) {
	return f(ctx)
}

type registration struct {
	id       uint64
	provider Provider
}

// Host runs tasks as supervised processes.
//
// Host is safe for concurrent use.
type Host struct {
	mu        sync.RWMutex
	providers map[string]registration
	execs     map[string]*Execution
	nextReg   uint64

	sup     *process.Supervisor
	bus     *integration.EventBus
	ownsBus bool

	command         string
	dir             string
	output          io.Writer
	outputMu        sync.Mutex
	shutdownTimeout time.Duration
	log             *slog.Logger

	closed atomic.Bool
}

// Option configures a Host.
type Option func(*Host)

// WithCommand sets the executable every task's arguments are passed to.
// Defaults to "pio".
func WithCommand(path string) Option {
	return func(h *Host) {
		if path != "" {
			h.command = path
		}
	}
}

// WithDir sets the working directory of executions.
func WithDir(dir string) Option {
	return func(h *Host) {
		h.dir = dir
	}
}

// WithOutput sets where execution output is written, one line at a time
// prefixed with the task title. Defaults to discarding output.
func WithOutput(w io.Writer) Option {
	return func(h *Host) {
		if w != nil {
			h.output = w
		}
	}
}

// WithEventBus publishes lifecycle events on bus instead of a private one.
func WithEventBus(bus *integration.EventBus) Option {
	return func(h *Host) {
		if bus != nil {
			h.bus = bus
			h.ownsBus = false
		}
	}
}

// WithShutdownTimeout sets how long Close waits before killing executions.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.shutdownTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Host) {
		h.log = logging.Component(log, "host")
	}
}

// New creates a Host.
func New(opts ...Option) *Host {
	h := &Host{
		providers:       make(map[string]registration),
		execs:           make(map[string]*Execution),
		bus:             integration.NewEventBus(),
		ownsBus:         true,
		command:         "pio",
		output:          io.Discard,
		shutdownTimeout: DefaultShutdownTimeout,
		log:             logging.Component(nil, "host"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sup = process.NewSupervisor(process.WithProcessExitCallback(h.onExit))
	return h
}

// Events returns the bus lifecycle events are published on.
func (h *Host) Events() *integration.EventBus {
	return h.bus
}

// RegisterProvider registers p under providerType, replacing any previous
// provider of that type. Disposing the handle removes this registration
// only.
func (h *Host) RegisterProvider(providerType string, p Provider) integration.Disposable {
	h.mu.Lock()
	h.nextReg++
	id := h.nextReg
	h.providers[providerType] = registration{id: id, provider: p}
	h.mu.Unlock()

	return integration.DisposeFunc(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if reg, ok := h.providers[providerType]; ok && reg.id == id {
			delete(h.providers, providerType)
		}
	})
}

// HasProvider reports whether a provider is registered for providerType.
func (h *Host) HasProvider(providerType string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.providers[providerType]
	return ok
}

// Execute resolves key to a task and starts it.
func (h *Host) Execute(ctx context.Context, key string) (*Execution, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}

	providerType, id, err := task.ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, key)
	}

	h.mu.RLock()
	reg, ok := h.providers[providerType]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
	}

	tasks, err := reg.provider.ProvideTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", key, err)
	}
	var t *task.ProjectTask
	for _, candidate := range tasks {
		if candidate.ID == id {
			t = candidate.Clone()
			break
		}
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, key)
	}

	return h.start(providerType, t)
}

// Dispatch starts the task addressed by key without returning its handle.
func (h *Host) Dispatch(ctx context.Context, key string) error {
	_, err := h.Execute(ctx, key)
	return err
}

func (h *Host) start(providerType string, t *task.ProjectTask) (*Execution, error) {
	cmd := exec.Command(h.command, t.Args...)
	cmd.Dir = h.dir
	out := newLineWriter(&h.outputMu, h.output, "["+t.Title()+"] ")
	cmd.Stdout = out
	cmd.Stderr = out

	e := &Execution{
		id:           uuid.NewString(),
		providerType: providerType,
		task:         t,
		out:          out,
		host:         h,
		done:         make(chan struct{}),
	}
	e.exitCode.Store(-1)

	// Registered before the process starts so a fast exit still finds it.
	h.mu.Lock()
	h.execs[e.id] = e
	h.mu.Unlock()

	proc, err := h.sup.StartWithID(e.id, t.Title(), cmd)
	if err != nil {
		h.mu.Lock()
		delete(h.execs, e.id)
		h.mu.Unlock()
		if errors.Is(err, process.ErrSupervisorShutdown) {
			return nil, ErrHostClosed
		}
		return nil, fmt.Errorf("starting %q: %w", t.Key(), err)
	}
	e.started = proc.Started

	h.log.Info("execution started", "execution", e.id, "task", t.ID, "args", t.Args, "pid", proc.PID())
	h.bus.Publish(integration.EventTaskStarted, e)
	return e, nil
}

func (h *Host) onExit(proc *process.Process) {
	h.mu.Lock()
	e, ok := h.execs[proc.ID]
	delete(h.execs, proc.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	_ = e.out.Flush()
	code := proc.ExitCode()
	e.exitCode.Store(int32(code))

	h.log.Info("execution ended", "execution", e.id, "task", e.task.ID, "exit_code", code)
	h.bus.Publish(integration.EventTaskEnded, task.ProcessEnded{Execution: e, ExitCode: code})
	close(e.done)
}

// Executions returns the running executions, oldest first.
func (h *Host) Executions() []task.Execution {
	h.mu.RLock()
	list := make([]*Execution, 0, len(h.execs))
	for _, e := range h.execs {
		list = append(list, e)
	}
	h.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].started.Before(list[j].started)
	})

	result := make([]task.Execution, len(list))
	for i, e := range list {
		result[i] = e
	}
	return result
}

// OnProcessEnded registers fn for every execution that exits.
func (h *Host) OnProcessEnded(fn func(task.ProcessEnded)) integration.Disposable {
	return h.bus.Subscribe(integration.EventTaskEnded, func(ev integration.Event) {
		if pe, ok := ev.Payload.(task.ProcessEnded); ok {
			fn(pe)
		}
	})
}

// Close terminates all executions and waits for them to exit, killing
// those still alive after the shutdown timeout.
func (h *Host) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.sup.Shutdown(h.shutdownTimeout)
	if h.ownsBus {
		h.bus.Close()
	}
	return nil
}

// Execution is a running task started by a Host.
type Execution struct {
	id           string
	providerType string
	task         *task.ProjectTask
	started      time.Time
	out          *lineWriter
	host         *Host

	done     chan struct{}
	exitCode atomic.Int32
}

// ID implements task.Execution.
func (e *Execution) ID() string { return e.id }

// ProviderType implements task.Execution.
func (e *Execution) ProviderType() string { return e.providerType }

// Task implements task.Execution.
func (e *Execution) Task() *task.ProjectTask { return e.task }

// Started returns when the process started.
func (e *Execution) Started() time.Time { return e.started }

// Done returns a channel closed after the process exits and the end event
// has been delivered to every subscriber.
func (e *Execution) Done() <-chan struct{} { return e.done }

// ExitCode returns the exit code, or -1 while running or when the process
// was killed by a signal.
func (e *Execution) ExitCode() int { return int(e.exitCode.Load()) }

// Terminate sends SIGTERM to the execution's process group. Terminating an
// execution that already ended is not an error.
func (e *Execution) Terminate() error {
	err := e.host.sup.Terminate(e.id)
	if errors.Is(err, process.ErrProcessNotFound) {
		return nil
	}
	return err
}
