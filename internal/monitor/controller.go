package monitor

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/observability"
	"github.com/dshills/piotask/internal/task"
)

// Settings supplies the controller's configuration. It is read on every
// call so reloaded values apply to the next run.
type Settings interface {
	AutoCloseSerialMonitor() bool
	ReopenSerialMonitorDelay() time.Duration
}

// Host is the part of the execution host the controller uses.
type Host interface {
	Executions() []task.Execution
	Dispatch(ctx context.Context, key string) error
}

// Controller suspends serial monitors around upload and test runs.
//
// Controller is safe for concurrent use. Host calls are made without
// holding the state lock. A resume dispatch is never started after Begin
// has bumped the run generation.
type Controller struct {
	host     Host
	settings Settings
	log      *slog.Logger
	metrics  *observability.Metrics
	bus      *integration.EventBus

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	active   *task.ProjectTask
	queue    []task.Execution
	gen      uint64 // incremented by Begin
	idle     chan struct{}
	stalled  bool // a resume dispatch failed, queue kept for RetryResume
	disposed bool

	dispatchMu sync.Mutex
	resume     integration.Timer
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = logging.Component(log, "monitor")
	}
}

// WithMetrics sets the instruments suspensions and resumptions are
// counted on.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithEventBus publishes monitor.suspended and monitor.resumed on bus.
func WithEventBus(bus *integration.EventBus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}

// New creates a Controller.
func New(host Host, settings Settings, opts ...Option) *Controller {
	c := &Controller{
		host:     host,
		settings: settings,
		log:      logging.Component(nil, "monitor"),
		metrics:  observability.NewMetrics(nil),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin makes t the active task and discards any suspended executions left
// by an earlier run. A resume still waiting for its delay is cancelled, and
// Begin returns only after a resume dispatch already in flight completes, so
// the monitor it reopens is visible to SuspendConflicts.
func (c *Controller) Begin(t *task.ProjectTask) {
	c.resume.Stop()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	if n := len(c.queue); n > 0 {
		c.log.Info("discarding suspended executions", "count", n)
	}
	c.active = t.Clone()
	c.queue = nil
	c.stalled = false
	c.gen++
	c.markIdleLocked()
	c.mu.Unlock()

	c.dispatchMu.Lock()
	c.dispatchMu.Unlock() //nolint:staticcheck // empty critical section waits for a dispatch
}

// SuspendConflicts terminates the running monitors that conflict with the
// active task and queues them for resumption. It returns the executions it
// terminated.
//
// Nothing happens unless auto-close is enabled and the active task uploads
// or tests. An execution is left alone when it belongs to another provider,
// does not monitor, or is a combined upload and monitor run other than the
// active task. A combined run that is the active task is terminated but not
// queued; it is started again by the dispatch that follows.
func (c *Controller) SuspendConflicts() []task.Execution {
	c.mu.Lock()
	active := c.active
	gen := c.gen
	disposed := c.disposed
	c.mu.Unlock()

	if disposed || active == nil || !c.settings.AutoCloseSerialMonitor() {
		return nil
	}
	if !active.HasArg("upload") && !active.HasArg("test") {
		return nil
	}

	var terminate, enqueue []task.Execution
	for _, e := range c.host.Executions() {
		t := e.Task()
		if e.ProviderType() != task.ProviderType || !t.HasArg("monitor") {
			continue
		}
		current := task.Equal(active, t)
		if t.IsUploadAndMonitor() && !current {
			continue
		}
		terminate = append(terminate, e)
		if !current {
			enqueue = append(enqueue, e)
		}
	}
	if len(terminate) == 0 {
		return nil
	}

	c.mu.Lock()
	if c.gen == gen {
		c.queue = append(c.queue, enqueue...)
	}
	c.mu.Unlock()

	for _, e := range terminate {
		if err := e.Terminate(); err != nil {
			c.log.Warn("terminating monitor failed", "execution", e.ID(), "error", err)
			c.dequeue(gen, e)
			continue
		}
		c.metrics.MonitorSuspended.Inc()
		c.log.Info("suspended monitor", "execution", e.ID(), "task", e.Task().ID, "args", e.Task().Args)
		c.publish(integration.EventMonitorSuspended, e.Task())
	}
	return terminate
}

// ResumeSuspended handles the end of an execution. When it is the active
// task, it exited with code zero and executions are queued, the active task
// is cleared and the queue is redispatched after the configured delay. It
// reports whether a resume was scheduled.
func (c *Controller) ResumeSuspended(ev task.ProcessEnded) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || c.active == nil || !task.Equal(c.active, ev.Task()) {
		return false
	}
	if ev.ExitCode != 0 {
		c.metrics.MonitorResumeSkipped.WithLabelValues(observability.SkipFailed).Inc()
		c.log.Info("active task failed, monitors stay closed", "task", c.active.ID, "exit_code", ev.ExitCode)
		return false
	}
	if len(c.queue) == 0 {
		c.metrics.MonitorResumeSkipped.WithLabelValues(observability.SkipEmptyQueue).Inc()
		return false
	}

	c.active = nil
	if c.idle == nil {
		c.idle = make(chan struct{})
	}
	gen := c.gen
	delay := c.settings.ReopenSerialMonitorDelay()
	c.log.Debug("scheduling monitor resume", "count", len(c.queue), "delay", delay)
	c.resume.Schedule(delay, func() { c.drain(gen) })
	return true
}

// drain redispatches queued executions one at a time, newest first. It
// does not wait for a dispatched execution before starting the next. A
// Begin after the resume was scheduled stops the drain. When a dispatch
// fails the execution goes back on the queue and the drain stalls until
// RetryResume.
func (c *Controller) drain(gen uint64) {
	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.markIdleLocked()
		}
		c.mu.Unlock()
	}()

	for c.resumeNext(gen) {
	}
}

// resumeNext dispatches the newest queued execution. It reports whether
// the drain should continue.
func (c *Controller) resumeNext(gen uint64) bool {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	if c.disposed || c.gen != gen || len(c.queue) == 0 {
		c.mu.Unlock()
		return false
	}
	last := len(c.queue) - 1
	e := c.queue[last]
	c.queue = c.queue[:last]
	c.mu.Unlock()

	key := e.Task().Key()
	if err := c.host.Dispatch(c.ctx, key); err != nil {
		c.log.Warn("resuming monitor failed", "key", key, "error", err)
		c.mu.Lock()
		if !c.disposed && c.gen == gen {
			c.queue = append(c.queue, e)
			c.stalled = true
		}
		c.mu.Unlock()
		return false
	}
	c.metrics.MonitorResumed.Inc()
	c.log.Info("resumed monitor", "key", key)
	c.publish(integration.EventMonitorResumed, e.Task())
	return true
}

// RetryResume restarts a drain that stalled on a failed dispatch, typically
// once the task provider is registered again. It reports whether a drain
// was scheduled.
func (c *Controller) RetryResume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || !c.stalled || c.active != nil || len(c.queue) == 0 {
		return false
	}
	c.stalled = false
	if c.idle == nil {
		c.idle = make(chan struct{})
	}
	gen := c.gen
	c.log.Debug("retrying monitor resume", "count", len(c.queue))
	c.resume.Schedule(0, func() { c.drain(gen) })
	return true
}

func (c *Controller) dequeue(gen uint64, e task.Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.queue = slices.DeleteFunc(c.queue, func(q task.Execution) bool { return q == e })
}

// WaitIdle blocks until no resume is scheduled or running, or ctx is done.
func (c *Controller) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot is a point-in-time view of the controller state.
type Snapshot struct {
	Active        *task.ProjectTask `json:"active,omitempty"`
	Queued        []string          `json:"queued"`
	ResumePending bool              `json:"resumePending"`
	Stalled       bool              `json:"stalled"`
}

// State returns a snapshot of the controller state. Queued lists the keys
// of suspended executions in enqueue order.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Active:        c.active.Clone(),
		Queued:        make([]string, 0, len(c.queue)),
		ResumePending: c.idle != nil,
		Stalled:       c.stalled,
	}
	for _, e := range c.queue {
		s.Queued = append(s.Queued, e.Task().Key())
	}
	return s
}

// Dispose cancels any pending resume. Later calls are no-ops.
func (c *Controller) Dispose() {
	c.resume.Dispose()
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.active = nil
	c.queue = nil
	c.stalled = false
	c.markIdleLocked()
}

func (c *Controller) markIdleLocked() {
	if c.idle != nil {
		close(c.idle)
		c.idle = nil
	}
}

func (c *Controller) publish(eventType string, t *task.ProjectTask) {
	if c.bus != nil {
		c.bus.Publish(eventType, t)
	}
}
