// Package serial holds the per-project serial port override.
//
// The override is empty for "Auto", meaning PlatformIO detects the port.
// Every change is written through to the state store before the in-memory
// value changes, so memory and disk never disagree after a call returns.
package serial

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/state"
)

// AutoLabel is shown when no override is set.
const AutoLabel = "Auto"

// StatusItem displays the selected port.
type StatusItem interface {
	SetText(text string)
}

// Selector holds the port override of one project.
//
// Selector is safe for concurrent use.
type Selector struct {
	store      state.Store
	projectDir string
	log        *slog.Logger
	bus        *integration.EventBus

	mu     sync.RWMutex
	port   string
	status StatusItem
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Selector) {
		s.log = logging.Component(log, "serial")
	}
}

// WithEventBus publishes port.changed on bus after every switch.
func WithEventBus(bus *integration.EventBus) Option {
	return func(s *Selector) {
		s.bus = bus
	}
}

// New creates a Selector for projectDir, loading the persisted override.
// A store read failure is logged and leaves the selector on Auto.
func New(store state.Store, projectDir string, opts ...Option) *Selector {
	s := &Selector{
		store:      store,
		projectDir: projectDir,
		log:        logging.Component(nil, "serial"),
	}
	for _, opt := range opts {
		opt(s)
	}

	port, _, err := store.Get(projectDir, state.SlotCustomPort)
	if err != nil {
		s.log.Warn("loading port override failed", "project", projectDir, "error", err)
	}
	s.port = port
	return s
}

// Port returns the override, or "" for Auto.
func (s *Selector) Port() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Label returns "Auto" or the last path component of the override.
func (s *Selector) Label() string {
	return Label(s.Port())
}

// SwitchPort persists port as the override, then adopts it. An empty port
// selects Auto. If persisting fails the previous override stays in effect.
func (s *Selector) SwitchPort(port string) error {
	var err error
	if port == "" {
		err = s.store.Delete(s.projectDir, state.SlotCustomPort)
	} else {
		err = s.store.Set(s.projectDir, state.SlotCustomPort, port)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.port = port
	status := s.status
	s.mu.Unlock()

	label := Label(port)
	if status != nil {
		status.SetText(label)
	}
	s.log.Info("serial port switched", "port", label)
	if s.bus != nil {
		s.bus.Publish(integration.EventPortChanged, port)
	}
	return nil
}

// SetStatusItem attaches item and shows the current label on it. A nil
// item detaches.
func (s *Selector) SetStatusItem(item StatusItem) {
	s.mu.Lock()
	s.status = item
	port := s.port
	s.mu.Unlock()

	if item != nil {
		item.SetText(Label(port))
	}
}

// Label formats port for display.
func Label(port string) string {
	if port == "" {
		return AutoLabel
	}
	trimmed := strings.TrimRight(port, `/\`)
	if trimmed == "" {
		return port
	}
	if i := strings.LastIndexAny(trimmed, `/\`); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// Pick runs the interactive selection and switches to the chosen port. It
// reports whether the override changed. Cancelling any prompt is a no-op.
func (s *Selector) Pick(ctx context.Context, lister PortLister, prompter Prompter) (bool, error) {
	port, ok, err := Choose(ctx, lister, prompter, s.Port(), s.log)
	if err != nil || !ok {
		return false, err
	}
	if err := s.SwitchPort(port); err != nil {
		return false, err
	}
	return true, nil
}
