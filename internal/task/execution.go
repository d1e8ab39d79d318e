package task

// Execution is a live, host-tracked instance of a task.
//
// The host owns executions; consumers only observe and terminate them.
type Execution interface {
	// ID uniquely identifies the execution within the host.
	ID() string

	// ProviderType is the provider the executed task was registered under.
	ProviderType() string

	// Task returns the task as dispatched, with its final argument list.
	Task() *ProjectTask

	// Terminate asks the host to stop the execution. It does not wait.
	Terminate() error
}

// ProcessEnded is delivered by the host when an execution's process exits.
type ProcessEnded struct {
	Execution Execution
	ExitCode  int
}

// Task returns the ended execution's task, or nil.
func (e ProcessEnded) Task() *ProjectTask {
	if e.Execution == nil {
		return nil
	}
	return e.Execution.Task()
}
