package project

import (
	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/task"
)

// ContextMultipleEnvs is the UI context key telling whether the project
// has more than one environment.
const ContextMultipleEnvs = "multipleEnvs"

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// StatusItem is a status bar entry.
type StatusItem interface {
	SetText(text string)
	Dispose()
}

// Workbench is the UI the manager registers into. Each registration
// returns a handle the manager disposes on the next refresh.
type Workbench interface {
	// ShowTasks registers the task view for one session.
	ShowTasks(session uint64, tasks []*task.ProjectTask, multiEnv bool) integration.Disposable

	// CreateStatusItem creates the serial port status item.
	CreateStatusItem() StatusItem

	// SetContext sets a UI context value.
	SetContext(key string, value any)

	// Notify shows a message to the user.
	Notify(level, message string)
}

// NopWorkbench discards every registration.
type NopWorkbench struct{}

// ShowTasks implements Workbench.
func (NopWorkbench) ShowTasks(uint64, []*task.ProjectTask, bool) integration.Disposable {
	return integration.DisposeFunc(nil)
}

// CreateStatusItem implements Workbench.
func (NopWorkbench) CreateStatusItem() StatusItem { return nopStatus{} }

// SetContext implements Workbench.
func (NopWorkbench) SetContext(string, any) {}

// Notify implements Workbench.
func (NopWorkbench) Notify(string, string) {}

type nopStatus struct{}

func (nopStatus) SetText(string) {}
func (nopStatus) Dispose()       {}
