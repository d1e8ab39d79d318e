package server

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/project"
	"github.com/dshills/piotask/internal/task"
)

// Notification is the payload of ui.notification events.
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// View is what the workbench currently shows.
type View struct {
	Session  uint64              `json:"session"`
	Tasks    []*task.ProjectTask `json:"tasks"`
	MultiEnv bool                `json:"multiEnv"`
	Status   string              `json:"status,omitempty"`
	Context  map[string]any      `json:"context,omitempty"`
}

// Workbench is a project.Workbench that keeps the latest registrations in
// memory for the HTTP bridge. Notifications are published on the bus so
// connected front-ends can show them.
type Workbench struct {
	bus *integration.EventBus
	log *slog.Logger

	mu      sync.RWMutex
	gen     uint64
	view    *View
	status  *statusItem
	context map[string]any
}

// NewWorkbench creates a workbench. bus may be nil.
func NewWorkbench(bus *integration.EventBus, log *slog.Logger) *Workbench {
	return &Workbench{
		bus:     bus,
		log:     logging.Component(log, "workbench"),
		context: make(map[string]any),
	}
}

// ShowTasks implements project.Workbench. Disposing the handle hides the
// view unless a newer one replaced it.
func (w *Workbench) ShowTasks(session uint64, tasks []*task.ProjectTask, multiEnv bool) integration.Disposable {
	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.view = &View{Session: session, Tasks: slices.Clone(tasks), MultiEnv: multiEnv}
	w.mu.Unlock()

	return integration.DisposeFunc(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.gen == gen {
			w.view = nil
		}
	})
}

// CreateStatusItem implements project.Workbench. Only the newest item is
// shown.
func (w *Workbench) CreateStatusItem() project.StatusItem {
	s := &statusItem{w: w}
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
	return s
}

// SetContext implements project.Workbench.
func (w *Workbench) SetContext(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.context[key] = value
}

// Notify implements project.Workbench.
func (w *Workbench) Notify(level, message string) {
	switch level {
	case project.LevelError:
		w.log.Error(message)
	case project.LevelWarning:
		w.log.Warn(message)
	default:
		w.log.Info(message)
	}
	if w.bus != nil {
		w.bus.Publish(integration.EventNotification, Notification{Level: level, Message: message})
	}
}

// Current returns the shown view, or false when no refresh has succeeded
// since the last one was torn down.
func (w *Workbench) Current() (View, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var v View
	ok := w.view != nil
	if ok {
		v = *w.view
		v.Tasks = slices.Clone(w.view.Tasks)
	}
	if w.status != nil {
		v.Status = w.status.text
	}
	v.Context = maps.Clone(w.context)
	return v, ok
}

type statusItem struct {
	w    *Workbench
	text string
}

func (s *statusItem) SetText(text string) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	s.text = text
}

func (s *statusItem) Dispose() {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if s.w.status == s {
		s.w.status = nil
	}
}
